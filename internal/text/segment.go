// Package text holds the input side of the tokenizer pipeline: Unicode
// cleanup, optional accent stripping, and the rule-based segmenter that
// turns cleaned text into coarse tokens for the WordPiece matcher.
package text

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"

	"github.com/example/go-wordpiece/internal/trie"
)

// Unresolved is the id carried by a coarse token before matching.
const Unresolved int64 = -1

// Token is a coarse token produced by the segmenter, or a matched piece
// produced downstream. Special tokens bypass subword matching.
type Token struct {
	Text    string
	ID      int64
	Special bool
}

// basicRules is tried left to right at each position; the first alternative
// that matches wins.
const basicRules = `'s|'t|'re|'ve|'m|'ll|'d| ?[\p{L}\p{N}]+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

var basicRe = regexp2.MustCompile(basicRules, regexp2.IgnoreCase)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	lowercase    bool
	stripAccents bool
}

// Option configures a Segmenter.
type Option func(*options)

// WithLowercase lowercases non-special tokens.
func WithLowercase(on bool) Option {
	return func(o *options) { o.lowercase = on }
}

// WithStripAccents applies StripAccents to non-special tokens.
func WithStripAccents(on bool) Option {
	return func(o *options) { o.stripAccents = on }
}

// ---------------------------------------------------------------------------
// Segmenter
// ---------------------------------------------------------------------------

// Segmenter splits text into coarse tokens. It is immutable after
// construction and safe for concurrent use.
type Segmenter struct {
	specials map[string]int64
	// embedded indexes the specials that the rule pass would tear apart
	// (those containing letters or digits) for the Aho-Corasick pre-split.
	embedded *trie.Trie
	opts     options
}

// NewSegmenter returns a segmenter protecting the given special tokens.
func NewSegmenter(specials map[string]int64, optFns ...Option) (*Segmenter, error) {
	var opts options
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Segmenter{
		specials: make(map[string]int64, len(specials)),
		embedded: trie.New(),
		opts:     opts,
	}

	for tok, id := range specials {
		if tok == "" {
			return nil, fmt.Errorf("special token with id %d is empty", id)
		}
		s.specials[tok] = id
		if strings.IndexFunc(tok, isWordRune) >= 0 {
			if err := s.embedded.Insert(tok, id); err != nil {
				return nil, fmt.Errorf("index special token %q: %w", tok, err)
			}
		}
	}
	s.embedded.Build()

	return s, nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Special returns the id of tok if it is a protected special token.
func (s *Segmenter) Special(tok string) (int64, bool) {
	id, ok := s.specials[tok]
	return id, ok
}

// Segment cleans text and returns its coarse tokens in order.
func (s *Segmenter) Segment(text string) []Token {
	cleaned := Clean(text)

	var out []Token
	for _, frag := range s.splitSpecials(cleaned) {
		if frag.special {
			out = append(out, Token{Text: frag.value, ID: frag.id, Special: true})
			continue
		}
		out = s.appendRuleTokens(out, frag.value)
	}

	return out
}

// Words returns the non-special coarse token texts of text, in order.
func (s *Segmenter) Words(text string) []string {
	tokens := s.Segment(text)

	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !tok.Special {
			words = append(words, tok.Text)
		}
	}

	return words
}

func (s *Segmenter) appendRuleTokens(out []Token, fragment string) []Token {
	runes := []rune(fragment)

	m, err := basicRe.FindRunesMatch(runes)
	for ; m != nil && err == nil; m, err = basicRe.FindNextMatch(m) {
		piece := strings.TrimSpace(m.String())
		if piece == "" {
			continue
		}

		if id, ok := s.specials[piece]; ok {
			out = append(out, Token{Text: piece, ID: id, Special: true})
			continue
		}

		if s.opts.lowercase {
			piece = strings.ToLower(piece)
		}
		if s.opts.stripAccents {
			piece = StripAccents(piece)
		}

		out = s.appendPunctSplit(out, piece)
	}

	return out
}

// appendPunctSplit emits maximal runs of non-punctuation runes and every
// punctuation rune as its own token.
func (s *Segmenter) appendPunctSplit(out []Token, piece string) []Token {
	emit := func(t string) {
		if id, ok := s.specials[t]; ok {
			out = append(out, Token{Text: t, ID: id, Special: true})
			return
		}
		out = append(out, Token{Text: t, ID: Unresolved})
	}

	start := 0
	for i, r := range piece {
		if !unicode.IsPunct(r) {
			continue
		}
		if i > start {
			emit(piece[start:i])
		}
		end := i + len(string(r))
		emit(piece[i:end])
		start = end
	}
	if start < len(piece) {
		emit(piece[start:])
	}

	return out
}

// ---------------------------------------------------------------------------
// special token pre-split
// ---------------------------------------------------------------------------

type fragment struct {
	value   string
	id      int64
	special bool
}

// splitSpecials carves embedded special tokens out of s in a single pass.
// Overlaps resolve leftmost first, then longest.
func (s *Segmenter) splitSpecials(str string) []fragment {
	if s.embedded.Len() == 0 {
		return []fragment{{value: str}}
	}

	runes := []rune(str)

	var hits []trie.Occurrence
	s.embedded.Scan(runes, func(o trie.Occurrence) bool {
		hits = append(hits, o)
		return true
	})
	if len(hits) == 0 {
		return []fragment{{value: str}}
	}

	slices.SortFunc(hits, func(a, b trie.Occurrence) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return b.End - a.End
	})

	var frags []fragment
	pos := 0
	for _, h := range hits {
		if h.Start < pos {
			continue
		}
		if h.Start > pos {
			frags = append(frags, fragment{value: string(runes[pos:h.Start])})
		}
		frags = append(frags, fragment{value: string(runes[h.Start:h.End]), id: h.ID, special: true})
		pos = h.End
	}
	if pos < len(runes) {
		frags = append(frags, fragment{value: string(runes[pos:])})
	}

	return frags
}
