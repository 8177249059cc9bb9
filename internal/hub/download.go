// Package hub fetches published WordPiece vocabularies from the Hugging Face
// hub and verifies them before they replace a local file.
package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/example/go-wordpiece/internal/vocabfile"
)

// DefaultBaseURL is the hub endpoint files are resolved against.
const DefaultBaseURL = "https://huggingface.co"

type DownloadOptions struct {
	File    File
	OutPath string
	// Format of the downloaded file. Empty means infer from OutPath.
	Format  vocabfile.Format
	Token   string
	BaseURL string
	Client  *http.Client
	Stdout  io.Writer
	Logger  *slog.Logger
}

type ErrAccessDenied struct {
	Repo string
	Msg  string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.Repo)
}

// ErrChecksumMismatch is returned when downloaded content does not match
// the expected sha256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// lockRecord pins the content fetched for one file so later runs can skip
// the download and detect upstream changes.
type lockRecord struct {
	File      File   `json:"file"`
	SHA256    string `json:"sha256"`
	Generated string `json:"generated"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// LockPath returns the lock file stored next to a downloaded vocabulary.
func LockPath(outPath string) string {
	return outPath + ".lock.json"
}

// Download fetches opts.File to opts.OutPath and returns its sha256. The
// file is parsed as a vocabulary before it replaces anything on disk.
func Download(ctx context.Context, opts DownloadOptions) (string, error) {
	if opts.File.Repo == "" || opts.File.Filename == "" {
		return "", errors.New("repo and filename are required")
	}
	if opts.OutPath == "" {
		return "", errors.New("output path is required")
	}
	if opts.File.Revision == "" {
		opts.File.Revision = "main"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 0}
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	format := opts.Format
	if format == "" || format == vocabfile.FormatAuto {
		f, err := vocabfile.FormatFromPath(opts.OutPath)
		if err != nil {
			return "", err
		}
		format = f
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutPath), 0o755); err != nil {
		return "", fmt.Errorf("create out dir: %w", err)
	}

	lockPath := LockPath(opts.OutPath)
	expected := strings.ToLower(opts.File.SHA256)
	if expected == "" {
		if lr, ok := readLock(lockPath); ok && lr.File.Repo == opts.File.Repo &&
			lr.File.Filename == opts.File.Filename && lr.File.Revision == opts.File.Revision {
			expected = lr.SHA256
		}
	}

	if expected != "" {
		if ok, err := existingMatches(opts.OutPath, expected); err != nil {
			return "", err
		} else if ok {
			fmt.Fprintf(opts.Stdout, "skip %s (checksum match)\n", opts.OutPath)
			return expected, nil
		}
	}

	url := resolveURL(opts.BaseURL, opts.File)
	if expected == "" {
		var err error
		expected, err = resolveChecksumFromMetadata(ctx, opts.Client, url, opts.File, opts.Token)
		if err != nil {
			return "", err
		}
		if expected == "" {
			opts.Logger.Warn("no sha256 published; pinning downloaded content",
				slog.String("repo", opts.File.Repo),
				slog.String("filename", opts.File.Filename),
				slog.String("revision", opts.File.Revision),
			)
		}
	}

	fmt.Fprintf(opts.Stdout, "download %s/%s@%s -> %s\n", opts.File.Repo, opts.File.Filename, opts.File.Revision, opts.OutPath)

	tmp := opts.OutPath + ".tmp"
	actual, err := downloadWithProgress(ctx, opts.Client, url, opts.File, opts.Token, tmp, opts.Stdout)
	if err != nil {
		return "", err
	}
	if expected != "" && actual != expected {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%s: expected %s got %s: %w", opts.File.Filename, expected, actual, ErrChecksumMismatch)
	}

	vocab, err := vocabfile.Load(tmp, format)
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("downloaded file is not a vocabulary: %w", err)
	}

	if err := os.Rename(tmp, opts.OutPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}
	fmt.Fprintf(opts.Stdout, "verified %s (%d entries, sha256=%s)\n", opts.OutPath, len(vocab), actual)

	if err := writeLock(lockPath, lockRecord{
		File:      opts.File,
		SHA256:    actual,
		Generated: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return "", err
	}

	return actual, nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

func newRequest(ctx context.Context, method, url, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func accessDenied(status int, repo string) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &ErrAccessDenied{
			Repo: repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", repo),
		}
	}
	return nil
}

func downloadWithProgress(ctx context.Context, client *http.Client, url string, file File, token, outPath string, stdout io.Writer) (string, error) {
	req, err := newRequest(ctx, http.MethodGet, url, token)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := accessDenied(resp.StatusCode, file.Repo); err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", file.Filename, resp.Status)
	}

	fh, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	pw := &progressWriter{w: io.MultiWriter(fh, h), total: resp.ContentLength, out: stdout, last: time.Now()}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("download read failed: %w", err)
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// progressWriter reports bytes written at most every 700ms.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	out     io.Writer
	last    time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if time.Since(p.last) > 700*time.Millisecond {
		if p.total > 0 {
			pct := float64(p.written) * 100 / float64(p.total)
			fmt.Fprintf(p.out, "  progress: %.1f%% (%d/%d bytes)\n", pct, p.written, p.total)
		} else {
			fmt.Fprintf(p.out, "  progress: %d bytes\n", p.written)
		}
		p.last = time.Now()
	}
	return n, err
}

// resolveChecksumFromMetadata asks the hub for the file's sha256. Files
// stored outside LFS carry a git blob id instead, in which case the empty
// string is returned.
func resolveChecksumFromMetadata(ctx context.Context, client *http.Client, url string, f File, token string) (string, error) {
	req, err := newRequest(ctx, http.MethodHead, url, token)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata request failed for %s: %w", f.Filename, err)
	}
	defer resp.Body.Close()

	if err := accessDenied(resp.StatusCode, f.Repo); err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return "", fmt.Errorf("metadata request failed for %s: %s", f.Filename, resp.Status)
	}

	for _, key := range []string{"X-Linked-Etag", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", nil
}

func resolveURL(base string, file File) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimSuffix(base, "/"), file.Repo, file.Revision, file.Filename)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLock(path string) (lockRecord, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return lockRecord{}, false
	}
	var out lockRecord
	if err := json.Unmarshal(b, &out); err != nil || !isSHA256Hex(out.SHA256) {
		return lockRecord{}, false
	}
	out.SHA256 = strings.ToLower(out.SHA256)
	return out, true
}

func writeLock(path string, lock lockRecord) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}
