package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-wordpiece/internal/config"
	"github.com/example/go-wordpiece/internal/tokenizer"
	"github.com/example/go-wordpiece/internal/trainer"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// TrainFunc builds a vocabulary from a corpus.
type TrainFunc func(ctx context.Context, corpus []string, opts trainer.Options) (map[string]int64, error)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	trainDefaults  trainer.Options
	train          TrainFunc
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:   1 << 20,
		workers:        2,
		requestTimeout: 60 * time.Second,
		trainDefaults:  trainer.DefaultOptions(),
		train:          trainer.Train,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes caps the text of tokenize/encode requests, the total
// corpus of train requests and the id count of decode requests.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent training runs.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request training deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithTrainDefaults sets the options train requests start from.
func WithTrainDefaults(opts trainer.Options) Option {
	return func(o *options) { o.trainDefaults = opts }
}

// WithTrainFunc replaces the training implementation.
func WithTrainFunc(fn TrainFunc) Option {
	return func(o *options) { o.train = fn }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	tok  tokenizer.Tokenizer
	opts options
	sem  chan struct{} // bounds concurrent training
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves /health and the /v1
// tokenize, encode, decode and train endpoints.
func NewHandler(tok tokenizer.Tokenizer, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	h := &handler{
		tok:  tok,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /v1/tokenize", h.handleTokenize)
	mux.HandleFunc("POST /v1/encode", h.handleEncode)
	mux.HandleFunc("POST /v1/decode", h.handleDecode)
	mux.HandleFunc("POST /v1/train", h.handleTrain)

	return h.withRequestID(mux)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type textRequest struct {
	Text string `json:"text"`
}

type tokenizeResponse struct {
	Tokens []string `json:"tokens"`
}

type encodeResponse struct {
	IDs []int64 `json:"ids"`
}

type decodeRequest struct {
	IDs []int64 `json:"ids"`
}

type decodeResponse struct {
	Text string `json:"text"`
}

// readText decodes a {"text": ...} body and enforces the size limit. It
// writes the error response itself and reports whether to continue.
func (h *handler) readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.tok == nil {
		writeError(w, http.StatusServiceUnavailable, "no vocabulary loaded")
		return "", false
	}

	var req textRequest
	if !decodeBody(w, r, &req) {
		return "", false
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return "", false
	}

	return req.Text, true
}

func (h *handler) handleTokenize(w http.ResponseWriter, r *http.Request) {
	text, ok := h.readText(w, r)
	if !ok {
		return
	}

	start := time.Now()
	tokens := h.tok.Tokenize(text)

	h.log.DebugContext(r.Context(), "tokenize",
		slog.Int("text_len", len(text)),
		slog.Int("tokens", len(tokens)),
		slog.Int64("duration_us", time.Since(start).Microseconds()),
	)
	writeJSON(w, http.StatusOK, tokenizeResponse{Tokens: tokens})
}

func (h *handler) handleEncode(w http.ResponseWriter, r *http.Request) {
	text, ok := h.readText(w, r)
	if !ok {
		return
	}

	start := time.Now()
	ids := h.tok.Encode(text)

	h.log.DebugContext(r.Context(), "encode",
		slog.Int("text_len", len(text)),
		slog.Int("tokens", len(ids)),
		slog.Int64("duration_us", time.Since(start).Microseconds()),
	)
	writeJSON(w, http.StatusOK, encodeResponse{IDs: ids})
}

func (h *handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	if h.tok == nil {
		writeError(w, http.StatusServiceUnavailable, "no vocabulary loaded")
		return
	}

	var req decodeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if len(req.IDs) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("ids exceed maximum count of %d", h.opts.maxTextBytes))
		return
	}

	text, err := h.tok.Decode(req.IDs)
	if err != nil {
		h.log.WarnContext(r.Context(), "decode failed",
			slog.Int("ids", len(req.IDs)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, decodeResponse{Text: text})
}

type trainRequest struct {
	Corpus        []string `json:"corpus"`
	VocabSize     *int     `json:"vocab_size,omitempty"`
	MinFrequency  *int     `json:"min_frequency,omitempty"`
	SpecialTokens []string `json:"special_tokens,omitempty"`
	StripAccents  *bool    `json:"strip_accents,omitempty"`
	Lowercase     *bool    `json:"lowercase,omitempty"`
}

type trainResponse struct {
	Vocab map[string]int64 `json:"vocab"`
}

func (h *handler) trainOptions(req trainRequest) trainer.Options {
	opts := h.opts.trainDefaults
	if req.VocabSize != nil {
		opts.VocabSize = *req.VocabSize
	}
	if req.MinFrequency != nil {
		opts.MinFrequency = *req.MinFrequency
	}
	if req.SpecialTokens != nil {
		opts.SpecialTokens = req.SpecialTokens
	}
	if req.StripAccents != nil {
		opts.StripAccents = *req.StripAccents
	}
	if req.Lowercase != nil {
		opts.Lowercase = *req.Lowercase
	}
	opts.Logger = h.log
	return opts
}

func (h *handler) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if !decodeBody(w, r, &req) {
		return
	}

	size := 0
	for _, s := range req.Corpus {
		size += len(s)
	}
	if size > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("corpus exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	// Acquire a worker slot, honouring context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	opts := h.trainOptions(req)

	start := time.Now()
	vocab, err := h.opts.train(ctx, req.Corpus, opts)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		attrs := []any{
			slog.Int("corpus_bytes", size),
			slog.Int("vocab_size", opts.VocabSize),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			h.log.WarnContext(r.Context(), "training timed out", attrs...)
			writeError(w, http.StatusGatewayTimeout, "training timed out")
		case errors.Is(err, trainer.ErrVocabTooSmall),
			errors.Is(err, trainer.ErrEmptyCorpus),
			errors.Is(err, trainer.ErrInvalidOptions):
			h.log.WarnContext(r.Context(), "training rejected", attrs...)
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.ErrorContext(r.Context(), "training failed", attrs...)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.log.InfoContext(r.Context(), "training complete",
		slog.Int("corpus_bytes", size),
		slog.Int("vocab_size", len(vocab)),
		slog.Int64("duration_ms", durationMS),
	)
	writeJSON(w, http.StatusOK, trainResponse{Vocab: vocab})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	tok             tokenizer.Tokenizer
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a Server for cfg. A nil tok is loaded from cfg.Paths.Vocab
// when the server starts.
func New(cfg config.Config, tok tokenizer.Tokenizer) *Server {
	shutdown := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		shutdown = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		tok:             tok,
		logger:          slog.Default(),
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the logger passed to the handler.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) handlerOptions() []Option {
	opts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithTrainDefaults(trainer.OptionsFromConfig(s.cfg, s.logger)),
		WithLogger(s.logger),
	}
	if s.cfg.Server.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second))
	}
	return opts
}

func (s *Server) Start(ctx context.Context) error {
	tok := s.tok
	if tok == nil {
		wp, err := tokenizer.Load(s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("initialize tokenizer: %w", err)
		}
		tok = wp
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           NewHandler(tok, s.handlerOptions()...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("server listening", slog.String("addr", s.cfg.Server.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Request ids
// ---------------------------------------------------------------------------

type requestIDKey struct{}

// RequestID returns the id attached to ctx by the handler, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestID echoes the caller's X-Request-ID or generates one, and
// logs one line per request.
func (h *handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		h.log.InfoContext(ctx, "request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
