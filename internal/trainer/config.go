package trainer

import (
	"log/slog"
	"slices"

	"github.com/example/go-wordpiece/internal/config"
)

// OptionsFromConfig builds training options from the trainer section. The
// normalization flags come from the tokenizer section so trained
// vocabularies match the tokenizer that will load them.
func OptionsFromConfig(cfg config.Config, logger *slog.Logger) Options {
	return Options{
		VocabSize:     cfg.Trainer.VocabSize,
		MinFrequency:  cfg.Trainer.MinFrequency,
		SpecialTokens: slices.Clone(cfg.Trainer.SpecialTokens),
		StripAccents:  cfg.Tokenizer.StripAccents,
		Lowercase:     cfg.Tokenizer.Lowercase,
		Workers:       cfg.Trainer.Workers,
		Logger:        logger,
	}
}
