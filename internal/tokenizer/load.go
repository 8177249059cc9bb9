package tokenizer

import (
	"fmt"
	"log/slog"

	"github.com/example/go-wordpiece/internal/config"
	"github.com/example/go-wordpiece/internal/vocabfile"
)

// OptionsFromConfig maps the tokenizer config section onto constructor options.
func OptionsFromConfig(c config.TokenizerConfig, logger *slog.Logger) []Option {
	opts := []Option{
		WithUnkToken(c.UnkToken),
		WithMaxInputCharsPerWord(c.MaxInputCharsPerWord),
		WithStripAccents(c.StripAccents),
		WithLowercase(c.Lowercase),
		WithStrictDecode(c.StrictDecode),
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return opts
}

// Load reads the configured vocabulary file and builds a tokenizer over it.
func Load(cfg config.Config, logger *slog.Logger) (*WordPiece, error) {
	format, err := vocabfile.ParseFormat(cfg.Paths.VocabFormat)
	if err != nil {
		return nil, err
	}

	vocab, err := vocabfile.Load(cfg.Paths.Vocab, format)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	tok, err := New(vocab, OptionsFromConfig(cfg.Tokenizer, logger)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Paths.Vocab, err)
	}

	return tok, nil
}
