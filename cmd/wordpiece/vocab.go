package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece/internal/hub"
	"github.com/example/go-wordpiece/internal/tokenizer"
	"github.com/example/go-wordpiece/internal/vocabfile"
)

func newVocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Inspect and convert vocabulary files",
	}

	cmd.AddCommand(newVocabInspectCmd())
	cmd.AddCommand(newVocabConvertCmd())
	cmd.AddCommand(newVocabDownloadCmd())

	return cmd
}

func newVocabInspectCmd() *cobra.Command {
	var (
		limit        int
		specialsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "List vocabulary entries by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path, format := cfg.Paths.Vocab, cfg.Paths.VocabFormat
			if len(args) == 1 {
				path, format = args[0], string(vocabfile.FormatAuto)
			}
			f, err := vocabfile.ParseFormat(format)
			if err != nil {
				return err
			}

			m, err := vocabfile.Load(path, f)
			if err != nil {
				return err
			}
			v, err := tokenizer.NewVocabulary(m)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			var (
				data                    [][]string
				special, initial, conts int
			)
			for _, e := range v.Entries() {
				kind := "word"
				switch {
				case e.Special:
					kind = "special"
					special++
				case e.Continuation:
					kind = "continuation"
					conts++
				default:
					initial++
				}
				if specialsOnly && !e.Special {
					continue
				}
				if limit > 0 && len(data) >= limit {
					continue
				}
				data = append(data, []string{strconv.FormatInt(e.ID, 10), strconv.Quote(e.Text), kind})
			}

			w := cmd.OutOrStdout()
			table := tablewriter.NewWriter(w)
			table.SetHeader([]string{"ID", "TOKEN", "KIND"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			_, err = fmt.Fprintf(w, "\n%s: %d entries (%d special, %d word-initial, %d continuation)\n",
				path, v.Len(), special, initial, conts)
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most this many entries (0 = all)")
	cmd.Flags().BoolVar(&specialsOnly, "specials", false, "Only list special tokens")

	return cmd
}

func newVocabConvertCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a vocabulary between txt, json and cbor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inFormat, err := vocabfile.ParseFormat(from)
			if err != nil {
				return err
			}
			outFormat, err := vocabfile.ParseFormat(to)
			if err != nil {
				return err
			}

			m, err := vocabfile.Load(args[0], inFormat)
			if err != nil {
				return err
			}
			if _, err := tokenizer.NewVocabulary(m); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := vocabfile.Save(args[1], outFormat, m); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(m), args[1])
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", "auto", "Input format: auto|txt|json|cbor")
	cmd.Flags().StringVar(&to, "to", "auto", "Output format: auto|txt|json|cbor")

	return cmd
}

func newVocabDownloadCmd() *cobra.Command {
	var (
		file    hub.File
		out     string
		token   string
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "download [name]",
		Short: "Download a published vocabulary from the Hugging Face hub",
		Long: "Download a vocabulary by known name or by --repo/--file, verify its checksum " +
			"and parse it before replacing the output file. Known names: " + fmt.Sprint(hub.KnownNames()),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			target := file
			if len(args) == 1 {
				known, err := hub.Known(args[0])
				if err != nil {
					return err
				}
				target = known
				if file.SHA256 != "" {
					target.SHA256 = file.SHA256
				}
			}
			if target.Repo == "" {
				return fmt.Errorf("either pass a known name or --repo")
			}

			if out == "" {
				out = cfg.Paths.Vocab
			}
			if token == "" {
				token = os.Getenv("HF_TOKEN")
			}
			format, err := vocabfile.ParseFormat(cfg.Paths.VocabFormat)
			if err != nil {
				return err
			}

			_, err = hub.Download(cmd.Context(), hub.DownloadOptions{
				File:    target,
				OutPath: out,
				Format:  format,
				Token:   token,
				BaseURL: baseURL,
				Stdout:  cmd.OutOrStdout(),
				Logger:  slog.Default(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&file.Repo, "repo", "", "Hub repository, e.g. google-bert/bert-base-uncased")
	cmd.Flags().StringVar(&file.Filename, "file", "vocab.txt", "File inside the repository")
	cmd.Flags().StringVar(&file.Revision, "revision", "main", "Branch, tag or commit")
	cmd.Flags().StringVar(&file.SHA256, "sha256", "", "Expected sha256 of the file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default: configured vocab path)")
	cmd.Flags().StringVar(&token, "hf-token", "", "Hugging Face token (default: $HF_TOKEN)")
	cmd.Flags().StringVar(&baseURL, "hub-url", hub.DefaultBaseURL, "Hub base URL")

	return cmd
}
