// Package server exposes Tilawa over HTTP.
//
// Routes:
//
//   - GET  /v1/session     WebSocket; one coach and one exam session per connection
//   - GET  /v1/sessions    active sessions
//   - POST /v1/compare     grade a transcription against expected text
//   - GET  /v1/scores      recent coaching scores (?key=&limit=)
//   - GET  /v1/confusions  letter confusion totals (?key=&limit=)
//   - GET  /healthz, /readyz, /metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/tilawa/internal/app"
	"github.com/MrWong99/tilawa/internal/health"
	"github.com/MrWong99/tilawa/internal/observe"
	"github.com/MrWong99/tilawa/internal/recite/batch"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
	"github.com/MrWong99/tilawa/pkg/score"
)

const (
	maxCompareBody  = 1 << 20
	fallbackTimeout = 2 * time.Minute
)

// Sessions creates and ends per-connection sessions. [app.SessionManager]
// implements it.
type Sessions interface {
	Start(ctx context.Context, opts app.StartOptions) (*app.Session, error)
	Stop(id string) error
	Active(ctx context.Context) []app.SessionInfo
}

var _ Sessions = (*app.SessionManager)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithStore serves score history from st.
func WithStore(st score.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithTranscriber grades audio captured while the live recognizer was down.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(s *Server) { s.transcriber = t }
}

// WithAligner sets the batch aligner used by /v1/compare and fallback
// grading.
func WithAligner(a *batch.Aligner) Option {
	return func(s *Server) { s.aligner = a }
}

// WithHealth registers the health endpoints of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithAllowedOrigins accepts WebSocket upgrades from these host patterns in
// addition to same-origin requests.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of the default Prometheus
// registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server holds the HTTP handlers.
type Server struct {
	sessions    Sessions
	store       score.Store
	transcriber transcribe.Transcriber
	aligner     *batch.Aligner
	health      *health.Handler
	metrics     *observe.Metrics
	origins     []string

	metricsHandler http.Handler
}

// New returns a server creating sessions through sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions}
	for _, o := range opts {
		o(s)
	}
	if s.aligner == nil {
		s.aligner = batch.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = observe.MetricsHandler()
	}
	return s
}

// Handler returns the routed handler wrapped in the tracing and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/session", s.handleSession)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("POST /v1/compare", s.handleCompare)
	mux.HandleFunc("GET /v1/scores", s.handleScores)
	mux.HandleFunc("GET /v1/confusions", s.handleConfusions)
	mux.Handle("GET /metrics", s.metricsHandler)
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

type compareRequest struct {
	Expected string `json:"expected"`
	Spoken   string `json:"spoken"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCompareBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Expected == "" {
		writeError(w, http.StatusBadRequest, "expected is required")
		return
	}
	writeJSON(w, http.StatusOK, s.aligner.Analyze(req.Expected, req.Spoken))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Active(r.Context()))
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	key, limit, ok := s.historyQuery(w, r)
	if !ok {
		return
	}
	list, err := s.store.Recent(r.Context(), key, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if list == nil {
		list = []score.Score{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleConfusions(w http.ResponseWriter, r *http.Request) {
	key, limit, ok := s.historyQuery(w, r)
	if !ok {
		return
	}
	list, err := s.store.Confusions(r.Context(), key, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if list == nil {
		list = []score.ConfusionTotal{}
	}
	writeJSON(w, http.StatusOK, list)
}

// historyQuery parses ?key=&limit= and checks that a store is configured.
func (s *Server) historyQuery(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no score store configured")
		return "", 0, false
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return "", 0, false
		}
		limit = n
	}
	return q.Get("key"), score.Limit(limit), true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	observe.Logger(r.Context()).Error("score store query failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "store query failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
