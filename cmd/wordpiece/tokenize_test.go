package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestTokenizeCmd_Args(t *testing.T) {
	out, err := runCLI(t, "", "tokenize", "--vocab", sampleVocabPath(t), "Hello, unaffable", "world!")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	if got, want := out, "hello , un ##aff ##able world !\n"; got != want {
		t.Errorf("tokenize = %q, want %q", got, want)
	}
}

func TestTokenizeCmd_StdinKeepsOrder(t *testing.T) {
	var lines, want []string
	for i := range 50 {
		switch i % 3 {
		case 0:
			lines, want = append(lines, "hello world"), append(want, "hello world")
		case 1:
			lines, want = append(lines, "unaffable"), append(want, "un ##aff ##able")
		default:
			lines, want = append(lines, "worlds xyz"), append(want, "world ##s [UNK]")
		}
	}

	out, err := runCLI(t, strings.Join(lines, "\n")+"\n\n", "tokenize", "--vocab", sampleVocabPath(t), "--jobs", "4")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	if diff := cmp.Diff(want, strings.Split(strings.TrimSuffix(out, "\n"), "\n")); diff != "" {
		t.Errorf("tokenize output mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenizeCmd_JSON(t *testing.T) {
	out, err := runCLI(t, "", "tokenize", "--vocab", sampleVocabPath(t), "--output", "json", "hello worlds")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if got, want := strings.TrimSpace(out), `["hello","world","##s"]`; got != want {
		t.Errorf("tokenize = %s, want %s", got, want)
	}
}

func TestTokenizeCmd_Errors(t *testing.T) {
	vocab := sampleVocabPath(t)

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"bad output", "", []string{"tokenize", "--vocab", vocab, "--output", "xml", "hi"}},
		{"negative jobs", "", []string{"tokenize", "--vocab", vocab, "--jobs", "-1", "hi"}},
		{"no input", "  \n", []string{"tokenize", "--vocab", vocab}},
		{"missing vocab", "", []string{"tokenize", "--vocab", "/nonexistent/vocab.txt", "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, tt.stdin, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEncodeCmd(t *testing.T) {
	vocab := sampleVocabPath(t)

	out, err := runCLI(t, "", "encode", "--vocab", vocab, "[CLS] hello worlds [SEP]")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got, want := strings.TrimSpace(out), "1 5 6 10 2"; got != want {
		t.Errorf("encode = %q, want %q", got, want)
	}

	out, err = runCLI(t, "", "encode", "--vocab", vocab, "--output", "json", "unaffable")
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	if got, want := strings.TrimSpace(out), "[7,8,9]"; got != want {
		t.Errorf("encode = %s, want %s", got, want)
	}
}

func TestDecodeCmd(t *testing.T) {
	vocab := sampleVocabPath(t)

	out, err := runCLI(t, "", "decode", "--vocab", vocab, "5", "11", "6", "12")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, want := strings.TrimSpace(out), "hello,world!"; got != want {
		t.Errorf("decode = %q, want %q", got, want)
	}

	out, err = runCLI(t, "5,6\n[7, 8, 9]\n", "decode", "--vocab", vocab)
	if err != nil {
		t.Fatalf("decode stdin: %v", err)
	}
	if got, want := out, "hello world\nun aff able\n"; got != want {
		t.Errorf("decode = %q, want %q", got, want)
	}
}

func TestDecodeCmd_UnknownIDs(t *testing.T) {
	vocab := sampleVocabPath(t)

	out, err := runCLI(t, "", "decode", "--vocab", vocab, "5", "99")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := strings.TrimSpace(out); got != "hello" {
		t.Errorf("decode = %q, want %q", got, "hello")
	}

	if _, err := runCLI(t, "", "decode", "--vocab", vocab, "--strict", "5", "99"); err == nil {
		t.Error("expected strict decode to fail on unknown id")
	}
	if _, err := runCLI(t, "", "decode", "--vocab", vocab, "5", "x"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		in      string
		want    []int64
		wantErr bool
	}{
		{"1 2 3", []int64{1, 2, 3}, false},
		{"[1, 2,3]", []int64{1, 2, 3}, false},
		{"\t4\t5 ", []int64{4, 5}, false},
		{"", []int64{}, false},
		{"1 two", nil, true},
		{"1.5", nil, true},
	}

	for _, tt := range tests {
		got, err := parseIDs(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseIDs(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr {
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseIDs(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		}
	}
}

func TestMapLines_StopsOnError(t *testing.T) {
	boom := errors.New("boom")

	var out strings.Builder
	err := mapLines(context.Background(), &out, []string{"a", "b", "c"}, 2, func(s string) (string, error) {
		if s == "b" {
			return "", boom
		}
		return s, nil
	})

	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("err = %v, want boom on line 2", err)
	}
	if out.Len() != 0 {
		t.Errorf("nothing should be written on error, got %q", out.String())
	}
}
