// Package trie implements the vocabulary prefix index used by the WordPiece
// matcher. Nodes live in a single arena and refer to each other by index, so
// failure links share the trie instead of copying the nodes they point at.
//
// A Trie is filled with Insert, then sealed by Build, which computes the
// Aho-Corasick failure links in one breadth-first pass. After Build the trie
// is immutable and safe for concurrent readers.
package trie

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrFrozen is returned by Insert once Build has run.
	ErrFrozen = errors.New("trie is frozen after Build")
	// ErrEmptyWord is returned by Insert for the empty string.
	ErrEmptyWord = errors.New("trie word must not be empty")
)

const (
	rootIndex int32 = 0
	noNode    int32 = -1
)

type node struct {
	children map[rune]int32
	fail     int32
	output   int32 // nearest terminal on the failure chain, excluding self
	id       int64
	depth    int32
	maxLen   int32 // longest entry, in runes, that passes through this node
	terminal bool
}

// Trie is an arena-backed prefix trie with failure links.
type Trie struct {
	nodes   []node
	entries int
	built   bool
}

// Match is the result of a prefix lookup. End is the exclusive rune offset
// where the matched entry stops in the scanned word.
type Match struct {
	End int
	ID  int64
}

// Occurrence is one vocabulary entry found by Scan, as a half-open rune range.
type Occurrence struct {
	Start int
	End   int
	ID    int64
}

// New returns an empty trie containing only the root node.
func New() *Trie {
	return &Trie{nodes: []node{newNode(0)}}
}

func newNode(depth int32) node {
	return node{
		fail:   rootIndex,
		output: noNode,
		depth:  depth,
	}
}

// Insert adds word with the given id. Inserting an existing word replaces
// its id.
func (t *Trie) Insert(word string, id int64) error {
	if t.built {
		return fmt.Errorf("insert %q: %w", word, ErrFrozen)
	}
	if word == "" {
		return ErrEmptyWord
	}

	wordLen := int32(utf8.RuneCountInString(word))
	cur := rootIndex
	t.bumpMaxLen(cur, wordLen)

	for _, r := range word {
		next, ok := t.nodes[cur].children[r]
		if !ok {
			next = int32(len(t.nodes))
			t.nodes = append(t.nodes, newNode(t.nodes[cur].depth+1))
			if t.nodes[cur].children == nil {
				t.nodes[cur].children = make(map[rune]int32)
			}
			t.nodes[cur].children[r] = next
		}
		cur = next
		t.bumpMaxLen(cur, wordLen)
	}

	if !t.nodes[cur].terminal {
		t.entries++
	}
	t.nodes[cur].terminal = true
	t.nodes[cur].id = id

	return nil
}

func (t *Trie) bumpMaxLen(idx, n int32) {
	if n > t.nodes[idx].maxLen {
		t.nodes[idx].maxLen = n
	}
}

// Build computes failure and output links breadth-first and freezes the trie.
// Calling Build more than once is a no-op.
func (t *Trie) Build() {
	if t.built {
		return
	}
	t.built = true

	queue := make([]int32, 0, len(t.nodes))
	for _, child := range t.nodes[rootIndex].children {
		t.nodes[child].fail = rootIndex
		queue = append(queue, child)
	}

	for head := 0; head < len(queue); head++ {
		parent := queue[head]
		for r, child := range t.nodes[parent].children {
			f := t.nodes[parent].fail
			for f != rootIndex {
				if _, ok := t.nodes[f].children[r]; ok {
					break
				}
				f = t.nodes[f].fail
			}

			fail := rootIndex
			if next, ok := t.nodes[f].children[r]; ok && next != child {
				fail = next
			}
			t.nodes[child].fail = fail

			if t.nodes[fail].terminal {
				t.nodes[child].output = fail
			} else {
				t.nodes[child].output = t.nodes[fail].output
			}

			queue = append(queue, child)
		}
	}
}

// Built reports whether Build has run.
func (t *Trie) Built() bool { return t.built }

// Len returns the number of distinct entries.
func (t *Trie) Len() int { return t.entries }

// MaxLen returns the length in runes of the longest entry.
func (t *Trie) MaxLen() int { return int(t.nodes[rootIndex].maxLen) }

// Lookup returns the id stored for exactly word.
func (t *Trie) Lookup(word string) (int64, bool) {
	cur := rootIndex
	for _, r := range word {
		next, ok := t.nodes[cur].children[r]
		if !ok {
			return 0, false
		}
		cur = next
	}
	n := &t.nodes[cur]
	if !n.terminal {
		return 0, false
	}

	return n.id, true
}

// FindLongestPrefix scans word from start and returns the longest entry that
// is a prefix of word[start:]. When the current node has no edge for the
// next rune the scan follows failure links and retries the same rune; it
// stops once the failure chain reaches the root without a match.
//
// Only terminals whose depth equals the distance from start are recorded:
// after a failure hop the node spells a suffix of the scanned text, which
// can never be a prefix anchored at start.
func (t *Trie) FindLongestPrefix(word []rune, start int) (Match, bool) {
	var (
		best  Match
		found bool
	)

	cur := rootIndex
	pos := start
	for pos < len(word) {
		next, ok := t.nodes[cur].children[word[pos]]
		if ok {
			cur = next
			pos++

			n := &t.nodes[cur]
			if int(n.depth) == pos-start {
				if n.terminal {
					best = Match{End: pos, ID: n.id}
					found = true
				}
				// no entry continues past this prefix
				if n.maxLen == n.depth {
					break
				}
			}

			continue
		}

		if cur == rootIndex {
			break
		}
		cur = t.nodes[cur].fail
	}

	return best, found
}

// Scan reports every entry occurring anywhere in text, ordered by end offset
// and, for a shared end, from longest to shortest. Returning false from fn
// stops the scan. Scan requires Build.
func (t *Trie) Scan(text []rune, fn func(Occurrence) bool) {
	cur := rootIndex
	for i, r := range text {
		for {
			if next, ok := t.nodes[cur].children[r]; ok {
				cur = next
				break
			}
			if cur == rootIndex {
				break
			}
			cur = t.nodes[cur].fail
		}

		end := i + 1
		for hit := cur; hit != noNode && hit != rootIndex; hit = t.nodes[hit].output {
			n := &t.nodes[hit]
			if !n.terminal {
				continue
			}
			if !fn(Occurrence{Start: end - int(n.depth), End: end, ID: n.id}) {
				return
			}
		}
	}
}
