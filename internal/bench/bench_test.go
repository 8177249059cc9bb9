package bench_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/example/go-wordpiece/internal/bench"
	"github.com/example/go-wordpiece/internal/tokenizer"
)

func benchTokenizer(t *testing.T) *tokenizer.WordPiece {
	t.Helper()

	tok, err := tokenizer.New(bench.BenchmarkVocab())
	if err != nil {
		t.Fatalf("tokenizer.New: %v", err)
	}

	return tok
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func TestBenchmarkVocab_Layout(t *testing.T) {
	vocab := bench.BenchmarkVocab()

	if len(vocab) != 43 {
		t.Errorf("want 43 entries, got %d", len(vocab))
	}

	for tok, want := range map[string]int64{"[UNK]": 0, "[MASK]": 4, "the": 5, "##s": 25, "##q": 43} {
		if got := vocab[tok]; got != want {
			t.Errorf("vocab[%q] = %d, want %d", tok, got, want)
		}
	}

	for tok, id := range vocab {
		if id == 6 {
			t.Errorf("id 6 should be unused, held by %q", tok)
		}
	}
}

func TestGenerateText_Shape(t *testing.T) {
	text := bench.GenerateText(200, 42)
	words := strings.Split(text, " ")

	if len(words) != 200 {
		t.Fatalf("want 200 words, got %d", len(words))
	}

	for _, w := range words {
		if len(w) < 3 || len(w) > 10 {
			t.Errorf("word %q length %d outside [3,10]", w, len(w))
		}
		for _, r := range w {
			if r > unicode.MaxASCII || !unicode.IsLower(r) {
				t.Errorf("word %q contains non-lowercase rune %q", w, r)
			}
		}
	}
}

func TestGenerateText_Deterministic(t *testing.T) {
	if bench.GenerateText(50, 7) != bench.GenerateText(50, 7) {
		t.Error("same seed produced different text")
	}
	if bench.GenerateText(50, 7) == bench.GenerateText(50, 8) {
		t.Error("different seeds produced identical text")
	}
	if got := bench.GenerateText(0, 1); got != "" {
		t.Errorf("zero words: got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func TestParseOp(t *testing.T) {
	for in, want := range map[string]bench.Op{"tokenize": bench.OpTokenize, " Encode ": bench.OpEncode, "DECODE": bench.OpDecode} {
		got, err := bench.ParseOp(in)
		if err != nil || got != want {
			t.Errorf("ParseOp(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := bench.ParseOp("train"); err == nil {
		t.Error("want error for unknown op")
	}
}

func TestRun_AllOps(t *testing.T) {
	tok := benchTokenizer(t)
	input := bench.GenerateText(100, 1)
	wantTokens := len(tok.Encode(input))

	for _, op := range []bench.Op{bench.OpTokenize, bench.OpEncode, bench.OpDecode} {
		t.Run(string(op), func(t *testing.T) {
			runs, err := bench.Run(tok, op, input, 100, 3)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(runs) != 3 {
				t.Fatalf("want 3 runs, got %d", len(runs))
			}
			if !runs[0].Cold || runs[1].Cold {
				t.Error("only the first run should be cold")
			}
			for i, r := range runs {
				if r.Index != i || r.Op != op || r.Words != 100 || r.Bytes != len(input) {
					t.Errorf("run %d: unexpected metadata %+v", i, r)
				}
				if r.Tokens != wantTokens {
					t.Errorf("run %d: tokens = %d, want %d", i, r.Tokens, wantTokens)
				}
			}
		})
	}
}

func TestRun_RejectsZeroRuns(t *testing.T) {
	if _, err := bench.Run(benchTokenizer(t), bench.OpEncode, "the", 1, 0); err == nil {
		t.Error("want error for runs=0")
	}
}

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}
	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("want zero stats, got %+v", s)
	}
}

func TestDurations(t *testing.T) {
	runs := []bench.RunResult{{Duration: time.Second}, {Duration: 2 * time.Second}}
	got := bench.Durations(runs)
	if len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Errorf("Durations = %v", got)
	}
}

func TestThroughput(t *testing.T) {
	// 1 MiB in 500ms = 2 MB/s
	got := bench.Throughput(1<<20, 500*time.Millisecond)
	if got < 1.999 || got > 2.001 {
		t.Errorf("want throughput≈2, got %.4f", got)
	}

	if got := bench.Throughput(1<<20, 0); got != 0 {
		t.Errorf("want 0 for zero duration, got %.4f", got)
	}
}

// ---------------------------------------------------------------------------
// Threshold gate
// ---------------------------------------------------------------------------

func TestThroughputThreshold(t *testing.T) {
	tests := []struct {
		name    string
		mbps    float64
		min     float64
		wantErr bool
	}{
		{"below", 0.5, 1.0, true},
		{"above", 3.0, 1.0, false},
		{"exact", 1.0, 1.0, false},
		{"disabled", 0.0001, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckThroughputThreshold(tt.mbps, tt.min)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckThroughputThreshold(%v, %v) err = %v, wantErr %v", tt.mbps, tt.min, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func sampleRuns() []bench.RunResult {
	return []bench.RunResult{
		{Index: 0, Cold: true, Op: bench.OpEncode, Words: 10, Bytes: 64, Tokens: 12, Duration: 800 * time.Microsecond},
		{Index: 1, Op: bench.OpEncode, Words: 10, Bytes: 64, Tokens: 12, Duration: 500 * time.Microsecond},
	}
}

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs := sampleRuns()
	stats := bench.ComputeStats(bench.Durations(runs))

	var buf strings.Builder
	bench.FormatTable(runs, stats, &buf)
	out := strings.ToLower(buf.String())

	for _, want := range []string{"run", "cold", "tokens", "ms", "mb/s", "encode", "0.800", "mean 0.650"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs := sampleRuns()
	stats := bench.ComputeStats(bench.Durations(runs))

	var buf bytes.Buffer
	bench.FormatJSON(runs, stats, &buf)

	var out struct {
		Runs []struct {
			Op     string `json:"op"`
			Tokens int    `json:"tokens"`
		} `json:"runs"`
		Stats struct {
			MeanMS float64 `json:"mean_ms"`
		} `json:"stats"`
	}

	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("FormatJSON produced invalid JSON: %v\n%s", err, buf.String())
	}
	if len(out.Runs) != 2 || out.Runs[0].Op != "encode" || out.Runs[0].Tokens != 12 {
		t.Errorf("unexpected runs: %+v", out.Runs)
	}
	if out.Stats.MeanMS != 0.65 {
		t.Errorf("mean_ms = %v, want 0.65", out.Stats.MeanMS)
	}
}
