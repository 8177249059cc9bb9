// Package stageprof times the tokenizer pipeline stage by stage and labels
// each stage for CPU profiles.
package stageprof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/pprof"
	"time"

	"github.com/example/go-wordpiece/internal/text"
	"github.com/example/go-wordpiece/internal/tokenizer"
)

// Options controls a profiling session.
type Options struct {
	Runs   int
	Warmup int
	// CPUProfile receives a pprof CPU profile of the measured runs when set.
	CPUProfile io.Writer
}

type timings struct {
	segment time.Duration
	match   time.Duration
	decode  time.Duration
	total   time.Duration
	coarse  int
	tokens  int
}

// Report holds per-stage averages over the measured runs.
type Report struct {
	Input  string
	Runs   int
	Warmup int
	Coarse int
	Tokens int

	Segment time.Duration
	Match   time.Duration
	Decode  time.Duration
	Total   time.Duration
}

// Run profiles tok over input.
func Run(ctx context.Context, tok *tokenizer.WordPiece, input string, opts Options) (Report, error) {
	if opts.Runs < 1 {
		return Report{}, errors.New("runs must be >= 1")
	}
	if opts.Warmup < 0 {
		return Report{}, errors.New("warmup must be >= 0")
	}

	for i := range opts.Warmup {
		if _, err := runOnce(ctx, tok, input); err != nil {
			return Report{}, fmt.Errorf("warmup run %d failed: %w", i+1, err)
		}
	}

	if opts.CPUProfile != nil {
		if err := pprof.StartCPUProfile(opts.CPUProfile); err != nil {
			return Report{}, fmt.Errorf("start cpuprofile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	var agg timings
	for i := range opts.Runs {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}

		t, err := runOnce(ctx, tok, input)
		if err != nil {
			return Report{}, fmt.Errorf("profiled run %d failed: %w", i+1, err)
		}

		agg.segment += t.segment
		agg.match += t.match
		agg.decode += t.decode
		agg.total += t.total
		agg.coarse = t.coarse
		agg.tokens = t.tokens
	}

	div := time.Duration(opts.Runs)

	return Report{
		Input:   input,
		Runs:    opts.Runs,
		Warmup:  opts.Warmup,
		Coarse:  agg.coarse,
		Tokens:  agg.tokens,
		Segment: agg.segment / div,
		Match:   agg.match / div,
		Decode:  agg.decode / div,
		Total:   agg.total / div,
	}, nil
}

func runOnce(ctx context.Context, tok *tokenizer.WordPiece, input string) (timings, error) {
	var out timings
	startTotal := time.Now()

	var coarse []text.Token
	pprof.Do(ctx, pprof.Labels("stage", "segment"), func(context.Context) {
		start := time.Now()
		coarse = tok.Segmenter().Segment(input)
		out.segment = time.Since(start)
	})

	var pieces []text.Token
	pprof.Do(ctx, pprof.Labels("stage", "match"), func(context.Context) {
		start := time.Now()
		pieces = tok.Match(coarse)
		out.match = time.Since(start)
	})

	ids := make([]int64, len(pieces))
	for i, p := range pieces {
		ids[i] = p.ID
	}

	var decErr error
	pprof.Do(ctx, pprof.Labels("stage", "decode"), func(context.Context) {
		start := time.Now()
		_, decErr = tok.Decode(ids)
		out.decode = time.Since(start)
	})
	if decErr != nil {
		return out, fmt.Errorf("decode: %w", decErr)
	}

	out.total = time.Since(startTotal)
	out.coarse = len(coarse)
	out.tokens = len(pieces)

	return out, nil
}

func msOf(d time.Duration) float64 {
	return d.Seconds() * 1000
}

// Write prints r as key: value lines.
func (r Report) Write(w io.Writer) {
	fmt.Fprintf(w, "text_bytes: %d\n", len(r.Input))
	fmt.Fprintf(w, "runs: %d (warmup %d)\n", r.Runs, r.Warmup)
	fmt.Fprintf(w, "coarse_tokens: %d\n", r.Coarse)
	fmt.Fprintf(w, "tokens: %d\n", r.Tokens)
	fmt.Fprintf(w, "avg_segment_ms: %.3f\n", msOf(r.Segment))
	fmt.Fprintf(w, "avg_match_ms: %.3f\n", msOf(r.Match))
	fmt.Fprintf(w, "avg_decode_ms: %.3f\n", msOf(r.Decode))
	fmt.Fprintf(w, "avg_total_ms: %.3f\n", msOf(r.Total))

	if r.Total > 0 {
		total := msOf(r.Total)
		fmt.Fprintf(w, "share_segment_pct: %.2f\n", 100*msOf(r.Segment)/total)
		fmt.Fprintf(w, "share_match_pct: %.2f\n", 100*msOf(r.Match)/total)
		fmt.Fprintf(w, "share_decode_pct: %.2f\n", 100*msOf(r.Decode)/total)
	}
}
