package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// readInput returns args joined by spaces when present, otherwise the
// non-empty lines of r.
func readInput(args []string, r io.Reader) ([]string, error) {
	if len(args) > 0 {
		return []string{strings.Join(args, " ")}, nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("either pass input as arguments or pipe lines on stdin")
	}

	return lines, nil
}

// mapLines applies fn to every line with at most jobs calls in flight and
// writes the results to w in input order.
func mapLines(ctx context.Context, w io.Writer, lines []string, jobs int, fn func(string) (string, error)) error {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	out := make([]string, len(lines))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, line := range lines {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := fn(line)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, s := range out {
		if _, err := fmt.Fprintln(bw, s); err != nil {
			return err
		}
	}
	return bw.Flush()
}
