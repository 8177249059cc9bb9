package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece/internal/trainer"
	"github.com/example/go-wordpiece/internal/vocabfile"
)

func newTrainCmd() *cobra.Command {
	var (
		out    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "train [corpus-file...]",
		Short: "Train a WordPiece vocabulary from text",
		Long: "Train a vocabulary from corpus files, one sample per line. " +
			"Reads stdin when no files are given or a file is '-'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if out == "" {
				out = cfg.Paths.Vocab
			}
			f, err := vocabfile.ParseFormat(format)
			if err != nil {
				return err
			}

			corpus, err := readCorpus(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			t, err := trainer.New(trainer.OptionsFromConfig(cfg, slog.Default()))
			if err != nil {
				return err
			}
			res, err := t.Train(cmd.Context(), corpus)
			if err != nil {
				return err
			}

			if err := vocabfile.Save(out, f, res.Vocab); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"wrote %d entries (%d alphabet, %d merges, %d words) to %s\n",
				len(res.Vocab), res.Alphabet, len(res.Merges), res.Words, out)
			return err
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output vocabulary path (default: configured vocab path)")
	cmd.Flags().StringVar(&format, "format", "auto", "Output format: auto|txt|json|cbor")

	return cmd
}

// readCorpus collects the non-empty lines of every named file, with "-"
// standing for stdin. No names means stdin.
func readCorpus(paths []string, stdin io.Reader) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}

	var corpus []string
	for _, p := range paths {
		var r io.Reader = stdin
		if p != "-" {
			f, err := os.Open(p)
			if err != nil {
				return nil, fmt.Errorf("open corpus: %w", err)
			}
			defer f.Close()
			r = f
		}

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				corpus = append(corpus, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read corpus %s: %w", p, err)
		}
	}

	return corpus, nil
}
