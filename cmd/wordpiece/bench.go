package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-wordpiece/internal/bench"
	"github.com/example/go-wordpiece/internal/bench/stageprof"
	"github.com/example/go-wordpiece/internal/tokenizer"
)

type benchFlags struct {
	ops           string
	words         []int
	runs          int
	seed          uint64
	format        string
	minThroughput float64
	useConfig     bool
	stages        bool
	warmup        int
	cpuprofile    string
}

func newBenchCmd() *cobra.Command {
	var f benchFlags

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark tokenize, encode and decode throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if f.format != "table" && f.format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			tok, err := benchTokenizer(f.useConfig)
			if err != nil {
				return err
			}

			if f.stages {
				return runStages(cmd, tok, f)
			}

			ops, err := parseOps(f.ops)
			if err != nil {
				return err
			}

			var results []bench.RunResult
			for _, op := range ops {
				for _, words := range f.words {
					input := bench.GenerateText(words, f.seed)
					runs, err := bench.Run(tok, op, input, words, f.runs)
					if err != nil {
						return fmt.Errorf("%s/%d: %w", op, words, err)
					}
					results = append(results, runs...)
				}
			}

			stats := bench.ComputeStats(bench.Durations(results))

			switch f.format {
			case "json":
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckThroughputThreshold(meanThroughput(results), f.minThroughput)
		},
	}

	cmd.Flags().StringVar(&f.ops, "op", "all", "Operations to time: tokenize|encode|decode|all (comma separated)")
	cmd.Flags().IntSliceVar(&f.words, "words", bench.DefaultSizes, "Input sizes in words")
	cmd.Flags().IntVar(&f.runs, "runs", 5, "Runs per operation and size")
	cmd.Flags().Uint64Var(&f.seed, "seed", 42, "Seed for generated input text")
	cmd.Flags().StringVar(&f.format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&f.minThroughput, "min-throughput", 0, "Exit non-zero if mean MB/s falls below this value (0 = disabled)")
	cmd.Flags().BoolVar(&f.useConfig, "use-config-vocab", false, "Benchmark the configured vocabulary instead of the built-in one")
	cmd.Flags().BoolVar(&f.stages, "stages", false, "Profile segment/match/decode stages instead")
	cmd.Flags().IntVar(&f.warmup, "warmup", 1, "Warmup runs before stage profiling")
	cmd.Flags().StringVar(&f.cpuprofile, "cpuprofile", "", "Write a CPU profile of the stage runs to this file")

	return cmd
}

func benchTokenizer(useConfig bool) (*tokenizer.WordPiece, error) {
	if useConfig {
		return loadTokenizer()
	}
	return tokenizer.New(bench.BenchmarkVocab())
}

func parseOps(raw string) ([]bench.Op, error) {
	if strings.TrimSpace(raw) == "all" {
		return []bench.Op{bench.OpTokenize, bench.OpEncode, bench.OpDecode}, nil
	}

	var ops []bench.Op
	for _, part := range strings.Split(raw, ",") {
		op, err := bench.ParseOp(part)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func meanThroughput(results []bench.RunResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += bench.Throughput(r.Bytes, r.Duration)
	}
	return sum / float64(len(results))
}

func runStages(cmd *cobra.Command, tok *tokenizer.WordPiece, f benchFlags) error {
	words := bench.DefaultSizes[len(bench.DefaultSizes)-1]
	if len(f.words) > 0 {
		words = f.words[len(f.words)-1]
	}

	opts := stageprof.Options{Runs: f.runs, Warmup: f.warmup}
	if f.cpuprofile != "" {
		file, err := os.Create(f.cpuprofile)
		if err != nil {
			return fmt.Errorf("create cpuprofile: %w", err)
		}
		defer file.Close()
		opts.CPUProfile = file
	}

	rep, err := stageprof.Run(cmd.Context(), tok, bench.GenerateText(words, f.seed), opts)
	if err != nil {
		return err
	}

	rep.Write(cmd.OutOrStdout())
	return nil
}
