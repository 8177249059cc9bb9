package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece/internal/doctor"
	"github.com/example/go-wordpiece/internal/tokenizer"
	"github.com/example/go-wordpiece/internal/vocabfile"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run vocabulary and tokenizer checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			format, err := vocabfile.ParseFormat(cfg.Paths.VocabFormat)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result := doctor.Run(doctor.Config{
				VocabPath:        cfg.Paths.Vocab,
				Format:           format,
				UnkToken:         cfg.Tokenizer.UnkToken,
				TokenizerOptions: tokenizer.OptionsFromConfig(cfg.Tokenizer, slog.Default()),
			}, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}
