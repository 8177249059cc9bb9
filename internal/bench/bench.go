// Package bench provides benchmarking primitives for the wordpiece bench command.
package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/example/go-wordpiece/internal/tokenizer"
)

// DefaultSizes are the input sizes, in words, exercised by a full run.
var DefaultSizes = []int{1, 10, 100, 1000}

// BenchmarkVocab returns the fixed test vocabulary: five special tokens
// followed by common English subwords. "##s" appears twice in the subword
// list, so the later id wins and id 6 stays unused.
func BenchmarkVocab() map[string]int64 {
	vocab := map[string]int64{
		"[UNK]":  0,
		"[CLS]":  1,
		"[SEP]":  2,
		"[PAD]":  3,
		"[MASK]": 4,
	}

	subwords := []string{
		"the", "##s", "##ing", "##ed", "##ly", "##er", "##est", "un##", "re##",
		"in##", "to", "of", "and", "##a", "##e", "##i", "##o", "##u", "##t",
		"##n", "##s", "##r", "##l", "##d", "##m", "##p", "##c", "##b", "##f",
		"##g", "##h", "##k", "##w", "##y", "##v", "##x", "##z", "##j", "##q",
	}
	for i, w := range subwords {
		vocab[w] = int64(i + 5)
	}

	return vocab
}

// GenerateText returns words random lowercase ASCII words of 3 to 10
// letters separated by single spaces. The same seed yields the same text.
func GenerateText(words int, seed uint64) string {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var sb strings.Builder
	for i := range words {
		if i > 0 {
			sb.WriteByte(' ')
		}
		n := 3 + rng.IntN(8)
		for range n {
			sb.WriteByte(byte('a' + rng.IntN(26)))
		}
	}

	return sb.String()
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// Op names the measured operation.
type Op string

const (
	OpTokenize Op = "tokenize"
	OpEncode   Op = "encode"
	OpDecode   Op = "decode"
)

// ParseOp validates an operation name.
func ParseOp(s string) (Op, error) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case OpTokenize, OpEncode, OpDecode:
		return op, nil
	default:
		return "", fmt.Errorf("unknown op %q (want tokenize|encode|decode)", s)
	}
}

// RunResult holds the timing for a single run.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run
	Op       Op
	Words    int
	Bytes    int
	Tokens   int
	Duration time.Duration
}

// Run times op over input runs times. Decode runs decode the ids produced
// by encoding input once up front.
func Run(tok tokenizer.Tokenizer, op Op, input string, words, runs int) ([]RunResult, error) {
	if runs < 1 {
		return nil, fmt.Errorf("runs must be >= 1, got %d", runs)
	}

	var ids []int64
	if op == OpDecode {
		ids = tok.Encode(input)
	}

	results := make([]RunResult, 0, runs)
	for i := range runs {
		var (
			n     int
			start = time.Now()
		)

		switch op {
		case OpTokenize:
			n = len(tok.Tokenize(input))
		case OpEncode:
			n = len(tok.Encode(input))
		case OpDecode:
			if _, err := tok.Decode(ids); err != nil {
				return nil, fmt.Errorf("run %d: %w", i+1, err)
			}
			n = len(ids)
		default:
			return nil, fmt.Errorf("unknown op %q", op)
		}

		results = append(results, RunResult{
			Index:    i,
			Cold:     i == 0,
			Op:       op,
			Words:    words,
			Bytes:    len(input),
			Tokens:   n,
			Duration: time.Since(start),
		})
	}

	return results, nil
}

// Durations extracts the run durations.
func Durations(runs []RunResult) []time.Duration {
	out := make([]time.Duration, len(runs))
	for i, r := range runs {
		out[i] = r.Duration
	}
	return out
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// An empty slice yields zero Stats.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Throughput returns megabytes of input processed per second.
// Returns 0 if d is zero to avoid division by zero.
func Throughput(bytes int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / (1 << 20) / d.Seconds()
}

// CheckThroughputThreshold returns an error if mbps < minimum.
// A minimum of 0 disables the gate.
func CheckThroughputThreshold(mbps, minimum float64) error {
	if minimum <= 0 {
		return nil
	}
	if mbps < minimum {
		return fmt.Errorf("throughput %.3f MB/s below threshold %.3f MB/s", mbps, minimum)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 3, 64)
}

// FormatTable writes a human-readable table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		data = append(data, []string{
			strconv.Itoa(r.Index + 1),
			cold,
			string(r.Op),
			strconv.Itoa(r.Words),
			strconv.Itoa(r.Tokens),
			ms(r.Duration),
			strconv.FormatFloat(Throughput(r.Bytes, r.Duration), 'f', 2, 64),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"RUN", "COLD", "OP", "WORDS", "TOKENS", "MS", "MB/S"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(w, "\nmin %s ms    mean %s ms    max %s ms\n", ms(stats.Min), ms(stats.Mean), ms(stats.Max))
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	Op         Op      `json:"op"`
	Words      int     `json:"words"`
	Tokens     int     `json:"tokens"`
	DurationMS float64 `json:"duration_ms"`
	MBPerSec   float64 `json:"mb_per_sec"`
}

type jsonStats struct {
	MinMS  float64 `json:"min_ms"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}

func msFloat(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:  msFloat(stats.Min),
			MeanMS: msFloat(stats.Mean),
			MaxMS:  msFloat(stats.Max),
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			Op:         r.Op,
			Words:      r.Words,
			Tokens:     r.Tokens,
			DurationMS: msFloat(r.Duration),
			MBPerSec:   Throughput(r.Bytes, r.Duration),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
