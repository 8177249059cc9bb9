// Package testutil provides shared fixtures and skip helpers for tests.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    path := testutil.WriteVocab(t, t.TempDir(), "vocab.txt", testutil.SampleVocab())
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-wordpiece/internal/vocabfile"
)

// SampleVocab returns a small contiguous vocabulary covering specials,
// word-initial entries and continuation pieces.
func SampleVocab() map[string]int64 {
	return map[string]int64{
		"[UNK]":  0,
		"[CLS]":  1,
		"[SEP]":  2,
		"[PAD]":  3,
		"[MASK]": 4,
		"hello":  5,
		"world":  6,
		"un":     7,
		"##aff":  8,
		"##able": 9,
		"##s":    10,
		",":      11,
		"!":      12,
	}
}

// WriteVocab saves vocab under dir/name, picking the format from the
// extension, and returns the full path. It fails the test on error.
func WriteVocab(tb testing.TB, dir, name string, vocab map[string]int64) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := vocabfile.Save(path, vocabfile.FormatAuto, vocab); err != nil {
		tb.Fatalf("write vocab %q: %v", path, err)
	}

	return path
}

// RequireFile skips the test if path does not exist. The WORDPIECE_TEST_DATA
// environment variable, when set, is used as the base for relative paths.
func RequireFile(tb testing.TB, path string) string {
	tb.Helper()

	if base := os.Getenv("WORDPIECE_TEST_DATA"); base != "" && !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}

	if _, err := os.Stat(path); err != nil {
		tb.Skipf("test data not available at %q: %v", path, err)
	}

	return path
}
