package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/example/go-wordpiece/internal/server"
	"github.com/example/go-wordpiece/internal/tokenizer"
	"github.com/example/go-wordpiece/internal/trainer"
)

func testVocab() map[string]int64 {
	return map[string]int64{
		"[UNK]": 0, "[CLS]": 1, "[SEP]": 2,
		"un": 10, "##aff": 11, "##able": 12, "hello": 13, ",": 14,
	}
}

func newTokenizer(t *testing.T, opts ...tokenizer.Option) *tokenizer.WordPiece {
	t.Helper()

	tok, err := tokenizer.New(testVocab(), opts...)
	require.NoError(t, err)

	return tok
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))

	return v
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[map[string]string](t, rec)
	require.Equal(t, "ok", body["status"])
	require.Contains(t, body, "version")
}

func TestHealth_RejectsPost(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := post(t, h, "/health", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ---------------------------------------------------------------------------
// tokenize / encode / decode
// ---------------------------------------------------------------------------

func TestTokenize(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := post(t, h, "/v1/tokenize", `{"text":"[CLS] unaffable nope"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeJSON[struct {
		Tokens []string `json:"tokens"`
	}](t, rec)
	if diff := cmp.Diff([]string{"[CLS]", "un", "##aff", "##able", "[UNK]"}, body.Tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := post(t, h, "/v1/encode", `{"text":"unaffable"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[struct {
		IDs []int64 `json:"ids"`
	}](t, rec)
	require.Equal(t, []int64{10, 11, 12}, body.IDs)
}

func TestEncode_EmptyTextReturnsEmptyArray(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := post(t, h, "/v1/encode", `{"text":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ids":[]}`, rec.Body.String())
}

func TestDecode(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := post(t, h, "/v1/decode", `{"ids":[13,14,10,11,12,999]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[map[string]string](t, rec)
	require.Equal(t, "hello,un aff able", body["text"])
}

func TestDecode_StrictUnknownIDIs422(t *testing.T) {
	h := server.NewHandler(newTokenizer(t, tokenizer.WithStrictDecode(true)))

	rec := post(t, h, "/v1/decode", `{"ids":[13,999]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeJSON[map[string]string](t, rec)
	require.Contains(t, body["error"], "999")
}

func TestNoTokenizer_Returns503(t *testing.T) {
	h := server.NewHandler(nil)

	for _, tc := range []struct{ path, body string }{
		{"/v1/tokenize", `{"text":"x"}`},
		{"/v1/encode", `{"text":"x"}`},
		{"/v1/decode", `{"ids":[1]}`},
	} {
		rec := post(t, h, tc.path, tc.body)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

// ---------------------------------------------------------------------------
// train
// ---------------------------------------------------------------------------

func TestTrain_UsesRequestOverrides(t *testing.T) {
	var got trainer.Options
	fake := func(_ context.Context, corpus []string, opts trainer.Options) (map[string]int64, error) {
		got = opts
		require.Equal(t, []string{"low lower", "lowest"}, corpus)
		return map[string]int64{"[UNK]": 0, "l": 1}, nil
	}

	h := server.NewHandler(nil, server.WithTrainFunc(fake))

	rec := post(t, h, "/v1/train",
		`{"corpus":["low lower","lowest"],"vocab_size":50,"min_frequency":1,"special_tokens":["[UNK]"],"lowercase":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[struct {
		Vocab map[string]int64 `json:"vocab"`
	}](t, rec)
	require.Equal(t, map[string]int64{"[UNK]": 0, "l": 1}, body.Vocab)

	require.Equal(t, 50, got.VocabSize)
	require.Equal(t, 1, got.MinFrequency)
	require.Equal(t, []string{"[UNK]"}, got.SpecialTokens)
	require.False(t, got.Lowercase)
	require.True(t, got.StripAccents, "unset fields keep the server default")
}

func TestTrain_RealTrainer(t *testing.T) {
	h := server.NewHandler(nil)

	rec := post(t, h, "/v1/train", `{"corpus":["low","lower","lowest"],"vocab_size":14,"min_frequency":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON[struct {
		Vocab map[string]int64 `json:"vocab"`
	}](t, rec)
	require.Len(t, body.Vocab, 14)
	require.Equal(t, int64(13), body.Vocab["low"])
}

func TestTrain_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"vocab too small", trainer.ErrVocabTooSmall, http.StatusBadRequest},
		{"empty corpus", trainer.ErrEmptyCorpus, http.StatusBadRequest},
		{"invalid options", trainer.ErrInvalidOptions, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := func(context.Context, []string, trainer.Options) (map[string]int64, error) {
				return nil, tt.err
			}
			h := server.NewHandler(nil, server.WithTrainFunc(fake))

			rec := post(t, h, "/v1/train", `{"corpus":["x"]}`)
			require.Equal(t, tt.want, rec.Code)
			require.NotEmpty(t, decodeJSON[map[string]string](t, rec)["error"])
		})
	}
}

// ---------------------------------------------------------------------------
// request validation
// ---------------------------------------------------------------------------

func TestInvalidJSON_Returns400(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	for _, path := range []string{"/v1/tokenize", "/v1/encode", "/v1/decode", "/v1/train"} {
		rec := post(t, h, path, `{not json`)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.True(t, strings.HasPrefix(decodeJSON[map[string]string](t, rec)["error"], "invalid JSON"), path)
	}
}

func TestMissingBody_Returns400(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/encode", nil)
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute_Returns404(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := post(t, h, "/v1/nope", `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// request ids
// ---------------------------------------------------------------------------

func TestRequestID_EchoedWhenProvided(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(server.RequestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)

	require.Equal(t, "abc-123", rec.Header().Get(server.RequestIDHeader))
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	h := server.NewHandler(newTokenizer(t))

	seen := make(map[string]bool)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		id := rec.Header().Get(server.RequestIDHeader)
		require.Len(t, id, 36)
		require.False(t, seen[id], "request id %q reused", id)
		seen[id] = true
	}
}
