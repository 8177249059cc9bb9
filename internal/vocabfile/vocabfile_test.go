package vocabfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
)

func sampleVocab() map[string]int64 {
	return map[string]int64{"[UNK]": 0, "[CLS]": 1, "un": 2, "##aff": 3, "##able": 4, "é": 5}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    Format
		wantErr bool
	}{
		{"", FormatAuto, false},
		{"AUTO", FormatAuto, false},
		{" txt ", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"Cbor", FormatCBOR, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("ParseFormat(%q) err = %v, want ErrUnknownFormat", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{
		"vocab.txt":          FormatText,
		"dir/vocab.JSON":     FormatJSON,
		"/abs/vocab.cbor":    FormatCBOR,
		"models/bert/v.text": FormatText,
	} {
		got, err := FormatFromPath(path)
		if err != nil || got != want {
			t.Errorf("FormatFromPath(%q) = %q, %v; want %q", path, got, err, want)
		}
	}

	for _, path := range []string{"vocab", "vocab.bin", "vocab.auto"} {
		if _, err := FormatFromPath(path); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("FormatFromPath(%q) err = %v, want ErrUnknownFormat", path, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Save / Load
// ---------------------------------------------------------------------------

func TestSaveLoad(t *testing.T) {
	for _, ext := range []string{"txt", "json", "cbor"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "vocab."+ext)

			if err := Save(path, FormatAuto, sampleVocab()); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Errorf("temp file left behind: %v", err)
			}

			got, err := Load(path, FormatAuto)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(sampleVocab(), got); diff != "" {
				t.Errorf("Load mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_ExplicitFormatOverridesExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.dat")
	if err := os.WriteFile(path, []byte("a\nb\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path, FormatText)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(map[string]int64{"a": 0, "b": 1}, got); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}

	if _, err := Load(path, FormatAuto); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Load auto err = %v, want ErrUnknownFormat", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"), FormatAuto)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load err = %v, want os.ErrNotExist", err)
	}
}

// ---------------------------------------------------------------------------
// Text format
// ---------------------------------------------------------------------------

func TestParseText(t *testing.T) {
	got, err := Parse(strings.NewReader("[PAD]\r\n[UNK]\nhello\n##s"), FormatText)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := map[string]int64{"[PAD]": 0, "[UNK]": 1, "hello": 2, "##s": 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseText_Malformed(t *testing.T) {
	for name, in := range map[string]string{
		"empty line": "a\n\nb\n",
		"duplicate":  "a\nb\na\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(in), FormatText); !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatText, map[string]int64{"b": 1, "a": 2, "c": 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := buf.String(), "c\nb\na\n"; got != want {
		t.Errorf("Write = %q, want %q", got, want)
	}

	for name, vocab := range map[string]map[string]int64{
		"gap":        {"a": 0, "b": 2},
		"not zero":   {"a": 1},
		"line break": {"a\nb": 0},
	} {
		t.Run(name, func(t *testing.T) {
			if err := Write(&bytes.Buffer{}, FormatText, vocab); !errors.Is(err, ErrMalformed) {
				t.Errorf("Write err = %v, want ErrMalformed", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// JSON / CBOR
// ---------------------------------------------------------------------------

func TestParseJSON_Malformed(t *testing.T) {
	tests := map[string]string{
		"string id":   `{"a": "1"}`,
		"fraction":    `{"a": 1.5}`,
		"negative":    `{"a": -2}`,
		"nested":      `{"a": {"b": 1}}`,
		"not object":  `["a", "b"]`,
		"truncated":   `{"a": 1`,
		"exponential": `{"a": 1e3}`,
	}

	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(in), FormatJSON); !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse(%s) err = %v, want ErrMalformed", in, err)
			}
		})
	}
}

func TestParseCBOR_Malformed(t *testing.T) {
	tests := map[string]any{
		"negative":  map[string]int64{"a": -1},
		"string id": map[string]string{"a": "x"},
		"float id":  map[string]float64{"a": 0.5},
		"array":     []string{"a"},
	}

	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			data, err := cbor.Marshal(v)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := Parse(bytes.NewReader(data), FormatCBOR); !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestWriteCBOR_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	if err := Write(&a, FormatCBOR, sampleVocab()); err != nil {
		t.Fatal(err)
	}
	if err := Write(&b, FormatCBOR, sampleVocab()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("canonical CBOR output differs between runs")
	}
}

func TestParse_UnknownFormat(t *testing.T) {
	if _, err := Parse(strings.NewReader(""), FormatAuto); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Parse err = %v, want ErrUnknownFormat", err)
	}
	if err := Write(&bytes.Buffer{}, Format("xml"), nil); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Write err = %v, want ErrUnknownFormat", err)
	}
}
