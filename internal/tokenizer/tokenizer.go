// Package tokenizer implements WordPiece tokenization over a failure-link
// trie. A WordPiece value is built once from a vocabulary and is read-only
// afterwards, so one instance can serve any number of goroutines.
package tokenizer

// Tokenizer is the surface consumed by the CLI, the HTTP server and the
// benchmark harness.
type Tokenizer interface {
	// Tokenize returns the vocabulary strings for text.
	Tokenize(text string) []string
	// Encode returns the vocabulary ids for text.
	Encode(text string) []int64
	// Decode rebuilds approximate text from ids.
	Decode(ids []int64) (string, error)
}

var _ Tokenizer = (*WordPiece)(nil)
