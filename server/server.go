// Package server exposes a knnlib.Cache over HTTP.
//
// Index names in URLs and warmup patterns are resolved relative to the
// server root; paths escaping the root are rejected.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/codec"
)

// maxBodyBytes bounds request bodies. A query vector of 1M float32 values
// encoded as JSON stays well below it.
const maxBodyBytes = 64 << 20

// QueryRequest is the body of POST /indexes/{name}/query.
type QueryRequest struct {
	Vector   []float32 `json:"vector"`
	K        int       `json:"k"`
	Space    string    `json:"space,omitempty"`
	Filter   []int64   `json:"filter,omitempty"`
	EfSearch int       `json:"ef_search,omitempty"`
	NProbes  int       `json:"nprobes,omitempty"`
}

// QueryResponse is the answer to a query.
type QueryResponse struct {
	Results []knnlib.Result `json:"results"`
	TookMS  int64           `json:"took_ms"`
}

// WarmupRequest is the body of POST /warmup.
type WarmupRequest struct {
	// Patterns are doublestar globs relative to the root, e.g. "**/*.faiss".
	Patterns []string `json:"patterns"`
	Space    string   `json:"space,omitempty"`
}

// WarmupResponse lists the indexes loaded by a warmup.
type WarmupResponse struct {
	Loaded []string          `json:"loaded"`
	Failed map[string]string `json:"failed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler mounts h under GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLoadRequest sets the defaults used when an index is loaded on demand.
func WithLoadRequest(req knnlib.LoadRequest) Option {
	return func(s *Server) { s.load = req }
}

// Server serves queries against cached indexes below a root directory.
type Server struct {
	cache   *knnlib.Cache
	root    string
	logger  *slog.Logger
	metrics http.Handler
	load    knnlib.LoadRequest
	router  chi.Router
}

// New creates a server for the indexes below root.
func New(cache *knnlib.Cache, root string, opts ...Option) *Server {
	s := &Server{
		cache:  cache,
		root:   filepath.Clean(root),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = chi.NewRouter()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/stats", s.handleStats)
	r.Post("/warmup", s.handleWarmup)
	r.Delete("/cache", s.handleClearCache)
	r.Route("/indexes/{name}", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Delete("/cache", s.handleEvict)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr, "root", s.root)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	s.cache.EvictAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolve(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !s.cache.Evict(path) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "index not cached"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolve(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	var opts []knnlib.QueryOption
	if len(req.Filter) > 0 {
		opts = append(opts, knnlib.WithFilter(roaring64.BitmapOf(toUint64(req.Filter)...)))
	}
	if req.EfSearch > 0 {
		opts = append(opts, knnlib.WithEfSearch(req.EfSearch))
	}
	if req.NProbes > 0 {
		opts = append(opts, knnlib.WithNProbes(req.NProbes))
	}

	load := s.load
	if req.Space != "" {
		load.Space = req.Space
	}

	start := time.Now()
	results, err := s.cache.Query(r.Context(), path, load, req.Vector, req.K, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []knnlib.Result{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Results: results,
		TookMS:  time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleWarmup(w http.ResponseWriter, r *http.Request) {
	var req WarmupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Patterns) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "patterns must not be empty"})
		return
	}

	paths, err := s.glob(req.Patterns)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	load := s.load
	if req.Space != "" {
		load.Space = req.Space
	}

	resp := WarmupResponse{Loaded: []string{}}
	for _, rel := range paths {
		if err := r.Context().Err(); err != nil {
			s.writeError(w, err)
			return
		}
		if _, err := s.cache.Get(r.Context(), filepath.Join(s.root, filepath.FromSlash(rel)), load); err != nil {
			if resp.Failed == nil {
				resp.Failed = make(map[string]string)
			}
			resp.Failed[rel] = err.Error()
			continue
		}
		resp.Loaded = append(resp.Loaded, rel)
	}
	s.logger.Info("warmup finished", "loaded", len(resp.Loaded), "failed", len(resp.Failed))
	writeJSON(w, http.StatusOK, resp)
}

// glob expands patterns below the root. Matches are returned once each in
// pattern order.
func (s *Server) glob(patterns []string) ([]string, error) {
	fsys := os.DirFS(s.root)
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

var errOutsideRoot = errors.New("index name escapes the server root")

func (s *Server) resolve(name string) (string, error) {
	name, err := url.PathUnescape(name)
	if err != nil || name == "" || !filepath.IsLocal(name) {
		return "", errOutsideRoot
	}
	return filepath.Join(s.root, name), nil
}

func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()
	if err := codec.Default.Decode(body, v); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return "malformed request body: " + e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func statusFor(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad), errors.Is(err, errOutsideRoot), errors.Is(err, knnlib.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, knnlib.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, knnlib.ErrIncompatible):
		return http.StatusConflict
	case errors.Is(err, knnlib.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = codec.Default.Encode(w, v)
}

func toUint64(ids []int64) []uint64 {
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id >= 0 {
			out = append(out, uint64(id))
		}
	}
	return out
}
