// Package vocabfile reads and writes WordPiece vocabularies as BERT-style
// vocab.txt files, JSON objects or CBOR maps.
package vocabfile

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

type Format string

const (
	// FormatAuto picks the format from the file extension.
	FormatAuto Format = "auto"
	// FormatText is one token per line, id = zero-based line number.
	FormatText Format = "txt"
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

var (
	ErrUnknownFormat = errors.New("unknown vocabulary format")
	ErrMalformed     = errors.New("malformed vocabulary")
)

// ParseFormat normalizes a user supplied format name. The empty string
// means FormatAuto.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return FormatAuto, nil
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("%q (expected auto|txt|json|cbor): %w", raw, ErrUnknownFormat)
	}
}

// FormatFromPath infers the format from the extension of path.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	f, err := ParseFormat(ext)
	if err != nil || f == FormatAuto {
		return "", fmt.Errorf("extension of %q: %w", path, ErrUnknownFormat)
	}
	return f, nil
}

func resolve(path string, f Format) (Format, error) {
	if f == "" || f == FormatAuto {
		return FormatFromPath(path)
	}
	return f, nil
}

// Load reads the vocabulary stored at path.
func Load(path string, f Format) (map[string]int64, error) {
	f, err := resolve(path, f)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer file.Close()

	vocab, err := Parse(file, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return vocab, nil
}

// Save writes vocab to path, replacing any existing file.
func Save(path string, f Format, vocab map[string]int64) error {
	f, err := resolve(path, f)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create vocabulary dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create vocabulary: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := Write(w, f, vocab); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush vocabulary: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close vocabulary: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename vocabulary: %w", err)
	}

	return nil
}

// Parse decodes a vocabulary from r.
func Parse(r io.Reader, f Format) (map[string]int64, error) {
	switch f {
	case FormatText:
		return parseText(r)
	case FormatJSON:
		return parseJSON(r)
	case FormatCBOR:
		return parseCBOR(r)
	default:
		return nil, fmt.Errorf("parse %q: %w", f, ErrUnknownFormat)
	}
}

// Write encodes vocab to w.
func Write(w io.Writer, f Format, vocab map[string]int64) error {
	switch f {
	case FormatText:
		return writeText(w, vocab)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(vocab); err != nil {
			return fmt.Errorf("encode json vocabulary: %w", err)
		}
		return nil
	case FormatCBOR:
		em, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return fmt.Errorf("cbor encoder: %w", err)
		}
		if err := em.NewEncoder(w).Encode(vocab); err != nil {
			return fmt.Errorf("encode cbor vocabulary: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("write %q: %w", f, ErrUnknownFormat)
	}
}

// ---------------------------------------------------------------------------
// vocab.txt
// ---------------------------------------------------------------------------

func parseText(r io.Reader) (map[string]int64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	vocab := make(map[string]int64)
	var line int64
	for sc.Scan() {
		tok := strings.TrimSuffix(sc.Text(), "\r")
		if tok == "" {
			return nil, fmt.Errorf("line %d: empty token: %w", line+1, ErrMalformed)
		}
		if prev, ok := vocab[tok]; ok {
			return nil, fmt.Errorf("line %d: %q repeats line %d: %w", line+1, tok, prev+1, ErrMalformed)
		}
		vocab[tok] = line
		line++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}

	return vocab, nil
}

func writeText(w io.Writer, vocab map[string]int64) error {
	toks := slices.SortedFunc(maps.Keys(vocab), func(a, b string) int {
		return cmp.Compare(vocab[a], vocab[b])
	})

	for i, tok := range toks {
		if vocab[tok] != int64(i) {
			return fmt.Errorf("txt needs contiguous ids from 0, %q has %d at position %d: %w", tok, vocab[tok], i, ErrMalformed)
		}
		if strings.ContainsAny(tok, "\r\n") {
			return fmt.Errorf("token %q contains a line break: %w", tok, ErrMalformed)
		}
		if _, err := io.WriteString(w, tok+"\n"); err != nil {
			return fmt.Errorf("write vocabulary: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// JSON / CBOR
// ---------------------------------------------------------------------------

func parseJSON(r io.Reader) (map[string]int64, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w: %w", ErrMalformed, err)
	}

	vocab := make(map[string]int64, len(raw))
	for tok, v := range raw {
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("token %q: id %v is not a number: %w", tok, v, ErrMalformed)
		}
		id, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("token %q: id %s is not an integer: %w", tok, n, ErrMalformed)
		}
		if id < 0 {
			return nil, fmt.Errorf("token %q: negative id %d: %w", tok, id, ErrMalformed)
		}
		vocab[tok] = id
	}

	return vocab, nil
}

func parseCBOR(r io.Reader) (map[string]int64, error) {
	var vocab map[string]int64
	if err := cbor.NewDecoder(r).Decode(&vocab); err != nil {
		return nil, fmt.Errorf("decode cbor: %w: %w", ErrMalformed, err)
	}

	for tok, id := range vocab {
		if id < 0 {
			return nil, fmt.Errorf("token %q: negative id %d: %w", tok, id, ErrMalformed)
		}
	}

	return vocab, nil
}
