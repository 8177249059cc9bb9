package tokenizer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/go-wordpiece/internal/text"
	"github.com/example/go-wordpiece/internal/trie"
)

const (
	// DefaultUnkToken is the token emitted for unmatchable words.
	DefaultUnkToken = "[UNK]"
	// DefaultMaxInputCharsPerWord caps the rune length of a coarse token.
	DefaultMaxInputCharsPerWord = 200
	// FallbackUnkID is used when the unknown token is missing from the vocabulary.
	FallbackUnkID int64 = 0
)

var (
	// ErrUnknownID is returned by Decode in strict mode for ids outside the vocabulary.
	ErrUnknownID = errors.New("token id not in vocabulary")
	// ErrInvalidOption is returned by New for out-of-range options.
	ErrInvalidOption = errors.New("invalid tokenizer option")
)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	unkToken     string
	maxChars     int
	stripAccents bool
	lowercase    bool
	strictDecode bool
	logger       *slog.Logger
}

func defaultOptions() options {
	return options{
		unkToken:     DefaultUnkToken,
		maxChars:     DefaultMaxInputCharsPerWord,
		stripAccents: true,
		lowercase:    true,
		logger:       slog.Default(),
	}
}

// Option configures a WordPiece tokenizer.
type Option func(*options)

// WithUnkToken sets the unknown token string. It should be a vocabulary key.
func WithUnkToken(tok string) Option {
	return func(o *options) { o.unkToken = tok }
}

// WithMaxInputCharsPerWord sets the rune ceiling above which a coarse token
// becomes a single unknown token.
func WithMaxInputCharsPerWord(n int) Option {
	return func(o *options) { o.maxChars = n }
}

// WithStripAccents toggles accent stripping of non-special tokens.
func WithStripAccents(on bool) Option {
	return func(o *options) { o.stripAccents = on }
}

// WithLowercase toggles lowercasing of non-special tokens.
func WithLowercase(on bool) Option {
	return func(o *options) { o.lowercase = on }
}

// WithStrictDecode makes Decode fail on ids outside the vocabulary instead
// of dropping them.
func WithStrictDecode(on bool) Option {
	return func(o *options) { o.strictDecode = on }
}

// WithLogger sets the logger used during construction.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// WordPiece
// ---------------------------------------------------------------------------

// WordPiece is an immutable WordPiece tokenizer.
type WordPiece struct {
	vocab *Vocabulary
	trie  *trie.Trie
	seg   *text.Segmenter
	unk   text.Token
	opts  options
}

// New validates vocab and builds a tokenizer over it.
func New(vocab map[string]int64, optFns ...Option) (*WordPiece, error) {
	v, err := NewVocabulary(vocab)
	if err != nil {
		return nil, fmt.Errorf("build vocabulary: %w", err)
	}

	return NewFromVocabulary(v, optFns...)
}

// NewFromVocabulary builds a tokenizer over an already validated vocabulary.
func NewFromVocabulary(v *Vocabulary, optFns ...Option) (*WordPiece, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.maxChars < 1 {
		return nil, fmt.Errorf("max input chars per word %d: %w", opts.maxChars, ErrInvalidOption)
	}
	if opts.unkToken == "" {
		return nil, fmt.Errorf("empty unknown token: %w", ErrInvalidOption)
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	specials := v.Specials()

	idx := trie.New()
	for tok, id := range v.byToken {
		if _, ok := specials[tok]; ok {
			continue
		}
		if err := idx.Insert(tok, id); err != nil {
			return nil, fmt.Errorf("index %q: %w", tok, err)
		}
	}
	idx.Build()

	seg, err := text.NewSegmenter(specials,
		text.WithLowercase(opts.lowercase),
		text.WithStripAccents(opts.stripAccents),
	)
	if err != nil {
		return nil, fmt.Errorf("build segmenter: %w", err)
	}

	unkID, ok := v.ID(opts.unkToken)
	if !ok {
		unkID = FallbackUnkID
		opts.logger.Warn("unknown token missing from vocabulary; using fallback id",
			slog.String("unk_token", opts.unkToken),
			slog.Int64("fallback_id", unkID),
		)
	}

	opts.logger.Debug("tokenizer built",
		slog.Int("vocab_size", v.Len()),
		slog.Int("special_tokens", len(specials)),
		slog.Int("subwords", idx.Len()),
		slog.Int("max_subword_chars", idx.MaxLen()),
	)

	return &WordPiece{
		vocab: v,
		trie:  idx,
		seg:   seg,
		unk:   text.Token{Text: opts.unkToken, ID: unkID, Special: true},
		opts:  opts,
	}, nil
}

// Vocabulary returns the tokenizer's vocabulary.
func (w *WordPiece) Vocabulary() *Vocabulary { return w.vocab }

// UnkToken returns the unknown token string and the id emitted for it.
func (w *WordPiece) UnkToken() (string, int64) { return w.unk.Text, w.unk.ID }

// MaxInputCharsPerWord returns the coarse token rune ceiling.
func (w *WordPiece) MaxInputCharsPerWord() int { return w.opts.maxChars }

// TokenizeDetailed returns the matched tokens for text with both their
// strings and ids.
func (w *WordPiece) TokenizeDetailed(s string) []text.Token {
	return w.Match(w.seg.Segment(s))
}

// Segmenter returns the segmenter feeding the matcher.
func (w *WordPiece) Segmenter() *text.Segmenter { return w.seg }

// Match runs WordPiece matching over already segmented coarse tokens.
// Special tokens pass through unchanged.
func (w *WordPiece) Match(coarse []text.Token) []text.Token {
	out := make([]text.Token, 0, len(coarse))
	for _, tok := range coarse {
		if tok.Special {
			out = append(out, tok)
			continue
		}
		out = w.appendPieces(out, tok.Text)
	}

	return out
}

// Tokenize returns the vocabulary strings for s.
func (w *WordPiece) Tokenize(s string) []string {
	tokens := w.TokenizeDetailed(s)

	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Text
	}

	return out
}

// Encode returns the vocabulary ids for s.
func (w *WordPiece) Encode(s string) []int64 {
	tokens := w.TokenizeDetailed(s)

	out := make([]int64, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.ID
	}

	return out
}

// appendPieces greedily matches word against the trie and appends its
// pieces to out. If any probe fails, everything appended for word is
// discarded and a single unknown token takes its place.
func (w *WordPiece) appendPieces(out []text.Token, word string) []text.Token {
	chars := []rune(word)
	if len(chars) > w.opts.maxChars {
		return append(out, w.unk)
	}

	mark := len(out)
	var probe []rune

	start := 0
	for start < len(chars) {
		scan := chars
		if start > 0 {
			probe = append(probe[:0], '#', '#')
			probe = append(probe, chars[start:]...)
			scan = probe
		}

		m, ok := w.trie.FindLongestPrefix(scan, 0)
		if !ok {
			return append(out[:mark], w.unk)
		}

		advance := m.End
		if start > 0 {
			advance -= len(ContinuationMarker)
		}
		// a bare "##" entry consumes nothing from the word
		if advance <= 0 {
			return append(out[:mark], w.unk)
		}

		piece, _ := w.vocab.Token(m.ID)
		out = append(out, text.Token{Text: piece, ID: m.ID})
		start += advance
	}

	return out
}

// Decode maps ids back to their strings, strips continuation markers and
// joins the pieces with single spaces, except next to punctuation. Ids
// outside the vocabulary are dropped unless strict decoding is enabled.
func (w *WordPiece) Decode(ids []int64) (string, error) {
	var (
		b         strings.Builder
		prevPunct bool
		wrote     bool
	)

	for _, id := range ids {
		piece, ok := w.vocab.Token(id)
		if !ok {
			if w.opts.strictDecode {
				return "", fmt.Errorf("decode id %d: %w", id, ErrUnknownID)
			}
			continue
		}

		piece = strings.ReplaceAll(piece, ContinuationMarker, "")
		if piece == "" {
			continue
		}

		punct := text.IsPunct(piece)
		if wrote && !punct && !prevPunct {
			b.WriteByte(' ')
		}
		b.WriteString(piece)

		prevPunct = punct
		wrote = true
	}

	return b.String(), nil
}
