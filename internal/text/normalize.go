package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Clean prepares raw input for segmentation:
//  1. NFKC normalization of the whole string.
//  2. Every whitespace rune becomes a single ASCII space.
//  3. Han ideographs are padded with a space on each side so that each one
//     reaches the segmenter as its own candidate word.
func Clean(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.Is(unicode.Han, r):
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// StripAccents decomposes s to NFD and drops ASCII punctuation and ASCII
// control runes. Combining marks and non-ASCII punctuation are kept.
func StripAccents(s string) string {
	// transform chains carry state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isASCIIPunctOrControl)))

	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}

	return out
}

func isASCIIPunctOrControl(r rune) bool {
	switch {
	case r < 0x20 || r == 0x7f:
		return true
	case r >= '!' && r <= '/', r >= ':' && r <= '@', r >= '[' && r <= '`', r >= '{' && r <= '~':
		return true
	}

	return false
}

// IsPunct reports whether s is non-empty and made only of Unicode
// punctuation runes.
func IsPunct(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPunct(r) {
			return false
		}
	}

	return true
}
