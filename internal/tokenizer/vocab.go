package tokenizer

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/example/go-wordpiece/internal/text"
)

// ContinuationMarker prefixes every non-initial piece of a word.
const ContinuationMarker = "##"

var (
	// ErrEmptyToken is returned when a vocabulary key is the empty string.
	ErrEmptyToken = errors.New("vocabulary token must not be empty")
	// ErrNegativeID is returned when a vocabulary id is negative.
	ErrNegativeID = errors.New("vocabulary id must be non-negative")
	// ErrDuplicateID is returned when two tokens share one id.
	ErrDuplicateID = errors.New("vocabulary id assigned to more than one token")
)

// Entry is one vocabulary item.
type Entry struct {
	Text         string
	ID           int64
	Special      bool
	Continuation bool
}

// Vocabulary is a validated, bidirectional token/id mapping, partitioned into
// special tokens and subword entries.
type Vocabulary struct {
	byToken  map[string]int64
	byID     map[int64]string
	specials map[string]int64
}

// NewVocabulary validates m and classifies its entries. Every id must be
// non-negative and map back to exactly one token.
func NewVocabulary(m map[string]int64) (*Vocabulary, error) {
	v := &Vocabulary{
		byToken:  make(map[string]int64, len(m)),
		byID:     make(map[int64]string, len(m)),
		specials: make(map[string]int64),
	}

	for _, tok := range slices.Sorted(maps.Keys(m)) {
		id := m[tok]
		if tok == "" {
			return nil, fmt.Errorf("id %d: %w", id, ErrEmptyToken)
		}
		if id < 0 {
			return nil, fmt.Errorf("token %q id %d: %w", tok, id, ErrNegativeID)
		}
		if prev, ok := v.byID[id]; ok {
			return nil, fmt.Errorf("id %d for %q and %q: %w", id, prev, tok, ErrDuplicateID)
		}

		v.byToken[tok] = id
		v.byID[id] = tok
		if IsSpecial(tok) {
			v.specials[tok] = id
		}
	}

	return v, nil
}

// IsSpecial reports whether tok bypasses subword matching: it is not a
// continuation piece and is either bracket/angle delimited or made only of
// punctuation.
func IsSpecial(tok string) bool {
	if strings.HasPrefix(tok, ContinuationMarker) {
		return false
	}

	return delimited(tok, '[', ']') || delimited(tok, '<', '>') || text.IsPunct(tok)
}

func delimited(s string, open, closing rune) bool {
	if utf8.RuneCountInString(s) < 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	last, _ := utf8.DecodeLastRuneInString(s)

	return first == open && last == closing
}

// Len returns the number of entries.
func (v *Vocabulary) Len() int { return len(v.byToken) }

// ID returns the id of tok.
func (v *Vocabulary) ID(tok string) (int64, bool) {
	id, ok := v.byToken[tok]
	return id, ok
}

// Token returns the canonical string for id.
func (v *Vocabulary) Token(id int64) (string, bool) {
	tok, ok := v.byID[id]
	return tok, ok
}

// Specials returns a copy of the special token map.
func (v *Vocabulary) Specials() map[string]int64 {
	return maps.Clone(v.specials)
}

// Map returns a copy of the token to id mapping.
func (v *Vocabulary) Map() map[string]int64 {
	return maps.Clone(v.byToken)
}

// Entries returns all entries ordered by id.
func (v *Vocabulary) Entries() []Entry {
	ids := slices.Sorted(maps.Keys(v.byID))

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		tok := v.byID[id]
		_, special := v.specials[tok]
		out = append(out, Entry{
			Text:         tok,
			ID:           id,
			Special:      special,
			Continuation: strings.HasPrefix(tok, ContinuationMarker),
		})
	}

	return out
}
