package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type lineOptions struct {
	jobs   int
	output string
}

func (o *lineOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.jobs, "jobs", 0, "Lines processed concurrently (0 = GOMAXPROCS)")
	cmd.Flags().StringVar(&o.output, "output", "text", "Output format: text|json")
}

func (o *lineOptions) validate() error {
	if o.output != "text" && o.output != "json" {
		return fmt.Errorf("--output must be 'text' or 'json'")
	}
	if o.jobs < 0 {
		return fmt.Errorf("--jobs must be >= 0")
	}
	return nil
}

// render formats v as JSON or, for text output, joins the items with spaces.
func (o *lineOptions) render(v any, items []string) (string, error) {
	if o.output == "json" {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return strings.Join(items, " "), nil
}

func newTokenizeCmd() *cobra.Command {
	var opts lineOptions

	cmd := &cobra.Command{
		Use:   "tokenize [text...]",
		Short: "Split text into vocabulary tokens",
		Long:  "Tokenize the arguments, or each line of stdin when no arguments are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			lines, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			return mapLines(cmd.Context(), cmd.OutOrStdout(), lines, opts.jobs, func(line string) (string, error) {
				tokens := tok.Tokenize(line)
				return opts.render(tokens, tokens)
			})
		},
	}
	opts.register(cmd)

	return cmd
}

func newEncodeCmd() *cobra.Command {
	var opts lineOptions

	cmd := &cobra.Command{
		Use:   "encode [text...]",
		Short: "Convert text into vocabulary ids",
		Long:  "Encode the arguments, or each line of stdin when no arguments are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			lines, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			return mapLines(cmd.Context(), cmd.OutOrStdout(), lines, opts.jobs, func(line string) (string, error) {
				ids := tok.Encode(line)
				return opts.render(ids, formatIDs(ids))
			})
		},
	}
	opts.register(cmd)

	return cmd
}

func newDecodeCmd() *cobra.Command {
	var opts lineOptions

	cmd := &cobra.Command{
		Use:   "decode [id...]",
		Short: "Rebuild text from vocabulary ids",
		Long:  "Decode the argument ids, or each line of stdin when no arguments are given. Ids may be separated by spaces or commas.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			tok, err := loadTokenizer()
			if err != nil {
				return err
			}
			lines, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			return mapLines(cmd.Context(), cmd.OutOrStdout(), lines, opts.jobs, func(line string) (string, error) {
				ids, err := parseIDs(line)
				if err != nil {
					return "", err
				}
				text, err := tok.Decode(ids)
				if err != nil {
					return "", err
				}
				if opts.output == "json" {
					return opts.render(text, nil)
				}
				return text, nil
			})
		},
	}
	opts.register(cmd)

	return cmd
}

func formatIDs(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// parseIDs accepts ids separated by whitespace or commas, optionally
// wrapped in brackets.
func parseIDs(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})

	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
