// Package doctor provides vocabulary preflight checks for wordpiece.
package doctor

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/example/go-wordpiece/internal/tokenizer"
	"github.com/example/go-wordpiece/internal/vocabfile"
)

// PassMark, WarnMark and FailMark are the prefix symbols printed for each
// check result.
const (
	PassMark = "✓"
	WarnMark = "!"
	FailMark = "✗"
)

// Config holds the inputs for each doctor check.
type Config struct {
	// VocabPath is the vocabulary file to check.
	VocabPath string
	// Format of VocabPath. Empty means infer from the extension.
	Format vocabfile.Format
	// UnkToken must be present in the vocabulary.
	UnkToken string
	// TokenizerOptions are passed through when constructing the tokenizer.
	TokenizerOptions []tokenizer.Option
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
	warnings []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// Warnings returns the list of non-fatal findings.
func (r *Result) Warnings() []string { return append([]string(nil), r.warnings...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) warn(msg string) { r.warnings = append(r.warnings, msg) }

// Run executes all checks and writes human-readable output to w. Checks
// that depend on an earlier failed check are not run.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- vocabulary file --------------------------------------------------
	if _, err := os.Stat(cfg.VocabPath); err != nil {
		res.fail(fmt.Sprintf("vocab file %q: %v", cfg.VocabPath, err))
		fmt.Fprintf(w, "%s vocab file %s: not found\n", FailMark, cfg.VocabPath)
		return res
	}
	fmt.Fprintf(w, "%s vocab file: %s\n", PassMark, cfg.VocabPath)

	// ---- parse ------------------------------------------------------------
	vocab, err := vocabfile.Load(cfg.VocabPath, cfg.Format)
	if err != nil {
		res.fail(fmt.Sprintf("vocab parse: %v", err))
		fmt.Fprintf(w, "%s vocab parse: %v\n", FailMark, err)
		return res
	}
	fmt.Fprintf(w, "%s vocab parse: %d entries\n", PassMark, len(vocab))

	// ---- unknown token ----------------------------------------------------
	unk := cfg.UnkToken
	if unk == "" {
		unk = tokenizer.DefaultUnkToken
	}
	if id, ok := vocab[unk]; ok {
		fmt.Fprintf(w, "%s unknown token %s: id %d\n", PassMark, unk, id)
	} else {
		res.fail(fmt.Sprintf("unknown token %q missing from vocabulary", unk))
		fmt.Fprintf(w, "%s unknown token %s: missing\n", FailMark, unk)
	}

	// ---- tokenizer --------------------------------------------------------
	opts := append([]tokenizer.Option{tokenizer.WithUnkToken(unk)}, cfg.TokenizerOptions...)
	tok, err := tokenizer.New(vocab, opts...)
	if err != nil {
		res.fail(fmt.Sprintf("tokenizer: %v", err))
		fmt.Fprintf(w, "%s tokenizer: %v\n", FailMark, err)
		return res
	}
	fmt.Fprintf(w, "%s tokenizer: ready\n", PassMark)

	// ---- composition ------------------------------------------------------
	c := countEntries(tok.Vocabulary().Entries())
	fmt.Fprintf(w, "%s entries: %d special, %d word-initial, %d continuation\n",
		PassMark, c.special, c.initial, c.continuation)
	if c.initial == 0 {
		res.warn("vocabulary has no word-initial entries")
		fmt.Fprintf(w, "%s entries: no word-initial entries, every word maps to %s\n", WarnMark, unk)
	}

	// ---- id contiguity ----------------------------------------------------
	if missing, maxID := idGaps(vocab); missing > 0 {
		res.warn(fmt.Sprintf("ids not contiguous: %d unused below max id %d", missing, maxID))
		fmt.Fprintf(w, "%s ids: %d unused below max id %d\n", WarnMark, missing, maxID)
	} else {
		fmt.Fprintf(w, "%s ids: contiguous 0..%d\n", PassMark, maxID)
	}

	return res
}

type composition struct {
	special      int
	initial      int
	continuation int
}

func countEntries(entries []tokenizer.Entry) composition {
	var c composition
	for _, e := range entries {
		switch {
		case e.Special:
			c.special++
		case e.Continuation:
			c.continuation++
		default:
			c.initial++
		}
	}
	return c
}

// idGaps returns how many ids in [0, max] are unused, and max. An empty
// vocabulary reports max -1.
func idGaps(vocab map[string]int64) (missing int64, maxID int64) {
	if len(vocab) == 0 {
		return 0, -1
	}

	ids := make([]int64, 0, len(vocab))
	for _, id := range vocab {
		ids = append(ids, id)
	}
	maxID = slices.Max(ids)

	return maxID + 1 - int64(len(ids)), maxID
}
