package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-wordpiece/internal/vocabfile"
)

var ErrInvalid = errors.New("invalid configuration")

// NormalizeFormat canonicalizes a vocabulary format name. Empty means auto.
func NormalizeFormat(raw string) (string, error) {
	f, err := vocabfile.ParseFormat(raw)
	if err != nil {
		return "", fmt.Errorf("invalid vocab format %q (expected auto|txt|json|cbor): %w", raw, ErrInvalid)
	}
	return string(f), nil
}

// Validate checks ranges and canonicalizes enumerated fields in place.
func (c *Config) Validate() error {
	var errs []error

	format, err := NormalizeFormat(c.Paths.VocabFormat)
	if err != nil {
		errs = append(errs, err)
	}
	c.Paths.VocabFormat = format

	if strings.TrimSpace(c.Tokenizer.UnkToken) == "" {
		errs = append(errs, fmt.Errorf("tokenizer.unk_token must not be empty: %w", ErrInvalid))
	}
	if c.Tokenizer.MaxInputCharsPerWord < 1 {
		errs = append(errs, fmt.Errorf("tokenizer.max_input_chars_per_word %d < 1: %w", c.Tokenizer.MaxInputCharsPerWord, ErrInvalid))
	}
	if c.Trainer.VocabSize < 1 {
		errs = append(errs, fmt.Errorf("trainer.vocab_size %d < 1: %w", c.Trainer.VocabSize, ErrInvalid))
	}
	if c.Trainer.MinFrequency < 1 {
		errs = append(errs, fmt.Errorf("trainer.min_frequency %d < 1: %w", c.Trainer.MinFrequency, ErrInvalid))
	}
	if c.Trainer.Workers < 0 {
		errs = append(errs, fmt.Errorf("trainer.workers %d < 0: %w", c.Trainer.Workers, ErrInvalid))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, fmt.Errorf("server.workers %d < 1: %w", c.Server.Workers, ErrInvalid))
	}
	if c.Server.MaxTextBytes < 1 {
		errs = append(errs, fmt.Errorf("server.max_text_bytes %d < 1: %w", c.Server.MaxTextBytes, ErrInvalid))
	}

	return errors.Join(errs...)
}
