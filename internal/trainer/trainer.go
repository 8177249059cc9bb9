// Package trainer builds WordPiece vocabularies from raw text by repeatedly
// merging the most frequent adjacent symbol pair.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/sourcegraph/conc/pool"

	"github.com/example/go-wordpiece/internal/text"
	"github.com/example/go-wordpiece/internal/tokenizer"
)

const (
	DefaultVocabSize    = 30000
	DefaultMinFrequency = 2
)

// DefaultSpecialTokens are reserved at the lowest ids unless overridden.
var DefaultSpecialTokens = []string{"[UNK]", "[CLS]", "[SEP]", "[PAD]", "[MASK]"}

var (
	// ErrVocabTooSmall is returned when the target size cannot hold the
	// special tokens plus the observed alphabet.
	ErrVocabTooSmall = errors.New("vocabulary size smaller than special tokens plus alphabet")
	// ErrEmptyCorpus is returned when segmentation yields no words.
	ErrEmptyCorpus = errors.New("corpus contains no words")
	// ErrInvalidOptions is returned by New for out-of-range options.
	ErrInvalidOptions = errors.New("invalid trainer options")
)

// Pair is two adjacent symbols considered for merging.
type Pair struct {
	Left, Right string
}

// Merged returns the symbol produced by merging p.
func (p Pair) Merged() string {
	return p.Left + strings.TrimPrefix(p.Right, tokenizer.ContinuationMarker)
}

// LexicalLess orders pairs by left symbol, then right symbol.
func LexicalLess(a, b Pair) bool {
	if a.Left != b.Left {
		return a.Left < b.Left
	}
	return a.Right < b.Right
}

// Options configures a Trainer.
type Options struct {
	VocabSize     int
	MinFrequency  int
	SpecialTokens []string
	StripAccents  bool
	Lowercase     bool
	// Workers bounds parallel pair counting. Zero means GOMAXPROCS.
	Workers int
	// Less breaks frequency ties. Nil means LexicalLess.
	Less   func(a, b Pair) bool
	Logger *slog.Logger
}

// DefaultOptions returns the stock training configuration.
func DefaultOptions() Options {
	return Options{
		VocabSize:     DefaultVocabSize,
		MinFrequency:  DefaultMinFrequency,
		SpecialTokens: slices.Clone(DefaultSpecialTokens),
		StripAccents:  true,
		Lowercase:     true,
	}
}

// Merge records one applied merge.
type Merge struct {
	Pair      Pair
	Symbol    string
	Frequency int
}

// Result is the outcome of a training run.
type Result struct {
	Vocab map[string]int64
	// Merges lists every applied merge in creation order, including those
	// whose symbol already existed and so added no id.
	Merges   []Merge
	Alphabet int
	Words    int
}

// Trainer is a reusable, immutable training configuration.
type Trainer struct {
	opts Options
}

// New validates opts and fills unset fields.
func New(opts Options) (*Trainer, error) {
	if opts.VocabSize < 1 {
		return nil, fmt.Errorf("vocab size %d: %w", opts.VocabSize, ErrInvalidOptions)
	}
	if opts.MinFrequency < 1 {
		return nil, fmt.Errorf("min frequency %d: %w", opts.MinFrequency, ErrInvalidOptions)
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("workers %d: %w", opts.Workers, ErrInvalidOptions)
	}
	for _, tok := range opts.SpecialTokens {
		if tok == "" {
			return nil, fmt.Errorf("empty special token: %w", ErrInvalidOptions)
		}
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Less == nil {
		opts.Less = LexicalLess
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.SpecialTokens = slices.Clone(opts.SpecialTokens)

	return &Trainer{opts: opts}, nil
}

// Train is a convenience wrapper returning only the vocabulary.
func Train(ctx context.Context, corpus []string, opts Options) (map[string]int64, error) {
	t, err := New(opts)
	if err != nil {
		return nil, err
	}
	res, err := t.Train(ctx, corpus)
	if err != nil {
		return nil, err
	}
	return res.Vocab, nil
}

// word is one distinct corpus word as its current symbol sequence.
type word struct {
	symbols []string
	count   int
}

// Train runs the merge loop over corpus. The context is checked between
// merges.
func (t *Trainer) Train(ctx context.Context, corpus []string) (*Result, error) {
	start := time.Now()
	log := t.opts.Logger

	vocab := make(map[string]int64)
	next := int64(0)
	add := func(sym string) bool {
		if _, ok := vocab[sym]; ok {
			return false
		}
		vocab[sym] = next
		next++
		return true
	}

	for _, tok := range t.opts.SpecialTokens {
		add(tok)
	}
	specials := maps.Clone(vocab)

	words, err := t.collectWords(corpus, specials)
	if err != nil {
		return nil, err
	}

	alphabet := alphabetOf(words)
	need := len(vocab)
	for _, sym := range alphabet {
		if _, ok := vocab[sym]; !ok {
			need++
		}
	}
	if t.opts.VocabSize < need {
		return nil, fmt.Errorf("need %d entries, target %d: %w", need, t.opts.VocabSize, ErrVocabTooSmall)
	}
	for _, sym := range alphabet {
		add(sym)
	}

	log.Info("training started",
		slog.Int("words", len(words)),
		slog.Int("alphabet", len(alphabet)),
		slog.Int("special_tokens", len(specials)),
		slog.Int("vocab_size", t.opts.VocabSize),
		slog.Int("min_frequency", t.opts.MinFrequency),
	)

	res := &Result{Alphabet: len(alphabet), Words: len(words)}

	for len(vocab) < t.opts.VocabSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("train after %d merges: %w", len(res.Merges), err)
		}

		counts, err := t.countPairs(ctx, words)
		if err != nil {
			return nil, fmt.Errorf("count pairs: %w", err)
		}

		best, freq, ok := t.bestPair(counts)
		if !ok {
			log.Debug("no pair meets minimum frequency", slog.Int("merges", len(res.Merges)))
			break
		}

		sym := best.Merged()
		for i := range words {
			words[i].symbols = applyMerge(words[i].symbols, best, sym)
		}
		add(sym)
		res.Merges = append(res.Merges, Merge{Pair: best, Symbol: sym, Frequency: freq})

		if n := len(res.Merges); n <= 5 || n%1000 == 0 {
			log.Debug("merge",
				slog.Int("n", n),
				slog.String("left", best.Left),
				slog.String("right", best.Right),
				slog.String("symbol", sym),
				slog.Int("frequency", freq),
			)
		}
	}

	res.Vocab = vocab
	log.Info("training finished",
		slog.Int("vocab_size", len(vocab)),
		slog.Int("merges", len(res.Merges)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return res, nil
}

// collectWords segments corpus the way the tokenizer does and returns the
// distinct words in sorted order as continuation-marked symbol sequences.
func (t *Trainer) collectWords(corpus []string, specials map[string]int64) ([]word, error) {
	seg, err := text.NewSegmenter(specials,
		text.WithLowercase(t.opts.Lowercase),
		text.WithStripAccents(t.opts.StripAccents),
	)
	if err != nil {
		return nil, fmt.Errorf("build segmenter: %w", err)
	}

	freq := make(map[string]int)
	for _, sample := range corpus {
		for _, w := range seg.Words(sample) {
			freq[w]++
		}
	}
	if len(freq) == 0 {
		return nil, ErrEmptyCorpus
	}

	keys := slices.Sorted(maps.Keys(freq))
	words := make([]word, len(keys))
	for i, k := range keys {
		words[i] = word{symbols: splitSymbols(k), count: freq[k]}
	}

	return words, nil
}

func splitSymbols(w string) []string {
	out := make([]string, 0, len(w))
	for i, r := range []rune(w) {
		if i == 0 {
			out = append(out, string(r))
			continue
		}
		out = append(out, tokenizer.ContinuationMarker+string(r))
	}
	return out
}

func alphabetOf(words []word) []string {
	seen := make(map[string]struct{})
	for _, w := range words {
		for _, s := range w.symbols {
			seen[s] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// countPairs shards words across a bounded pool and sums the per-shard
// counts. Addition is commutative so shard order does not matter.
func (t *Trainer) countPairs(ctx context.Context, words []word) (map[Pair]int, error) {
	shards := min(t.opts.Workers, len(words))
	size := (len(words) + shards - 1) / shards

	p := pool.NewWithResults[map[Pair]int]().
		WithContext(ctx).
		WithMaxGoroutines(shards)

	for lo := 0; lo < len(words); lo += size {
		chunk := words[lo:min(lo+size, len(words))]
		p.Go(func(ctx context.Context) (map[Pair]int, error) {
			counts := make(map[Pair]int)
			for _, w := range chunk {
				for i := 0; i+1 < len(w.symbols); i++ {
					counts[Pair{w.symbols[i], w.symbols[i+1]}] += w.count
				}
			}
			return counts, nil
		})
	}

	parts, err := p.Wait()
	if err != nil {
		return nil, err
	}

	total := make(map[Pair]int)
	for _, part := range parts {
		for pair, n := range part {
			total[pair] += n
		}
	}

	return total, nil
}

type candidate struct {
	pair Pair
	freq int
}

// bestPair ranks eligible pairs by frequency, then by the tie-break.
func (t *Trainer) bestPair(counts map[Pair]int) (Pair, int, bool) {
	h := binaryheap.NewWith(func(a, b interface{}) int {
		x, y := a.(candidate), b.(candidate)
		switch {
		case x.freq != y.freq:
			return y.freq - x.freq
		case t.opts.Less(x.pair, y.pair):
			return -1
		case t.opts.Less(y.pair, x.pair):
			return 1
		}
		return 0
	})

	for pair, n := range counts {
		if n >= t.opts.MinFrequency {
			h.Push(candidate{pair: pair, freq: n})
		}
	}

	top, ok := h.Pop()
	if !ok {
		return Pair{}, 0, false
	}
	c := top.(candidate)

	return c.pair, c.freq, true
}

// applyMerge rewrites symbols left to right, replacing every occurrence of
// pair with sym.
func applyMerge(symbols []string, pair Pair, sym string) []string {
	out := symbols[:0]
	for i := 0; i < len(symbols); i++ {
		if i+1 < len(symbols) && symbols[i] == pair.Left && symbols[i+1] == pair.Right {
			out = append(out, sym)
			i++
			continue
		}
		out = append(out, symbols[i])
	}
	return out
}
