// Package server exposes alignment sessions over HTTP and WebSocket.
//
// Routes:
//
//	POST   /v1/sessions                     create a session
//	DELETE /v1/sessions/{id}                close a session
//	POST   /v1/sessions/{id}/prepare        multipart target/attempt upload
//	GET    /v1/sessions/{id}/audio/{side}   trimmed audio of a side as WAV
//	GET    /v1/sessions/{id}/live           WebSocket submission channel
//	GET    /healthz, /readyz, /metrics
//
// Responses are JSON unless the request accepts application/cbor.
package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/shadowalign/internal/health"
	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/internal/session"
)

// DefaultMaxRequestBytes bounds request bodies and WebSocket messages when
// Config.MaxRequestBytes is zero.
const DefaultMaxRequestBytes = 51 << 20

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// Config holds the dependencies of a [Server].
type Config struct {
	Manager *session.Manager

	// Health serves /healthz and /readyz. Nil registers a handler with no
	// checks.
	Health *health.Handler

	// Metrics records HTTP request durations. Nil uses the global provider.
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Nil selects promhttp.Handler.
	MetricsHandler http.Handler

	// MaxRequestBytes caps request bodies and WebSocket messages.
	MaxRequestBytes int64

	// RunTimeout bounds a single prepare or live submission. Zero means no
	// limit beyond the request's own context.
	RunTimeout time.Duration

	// OriginPatterns are the cross-origin hosts allowed to open the live
	// socket. Same-origin requests are always accepted.
	OriginPatterns []string
}

// Server routes requests to the session manager.
type Server struct {
	manager  *session.Manager
	metrics  *observe.Metrics
	maxBytes int64
	origins  []string
	handler  http.Handler

	runTimeout atomic.Int64
}

// New builds a Server and its route table.
func New(cfg Config) *Server {
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultMaxRequestBytes
	}

	s := &Server{
		manager:  cfg.Manager,
		metrics:  cfg.Metrics,
		maxBytes: cfg.MaxRequestBytes,
		origins:  cfg.OriginPatterns,
	}
	s.SetRunTimeout(cfg.RunTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /v1/sessions/{id}/prepare", s.handlePrepare)
	mux.HandleFunc("GET /v1/sessions/{id}/audio/{side}", s.handleAudio)
	mux.HandleFunc("GET /v1/sessions/{id}/live", s.handleLive)
	cfg.Health.Register(mux)
	mux.Handle("GET /metrics", cfg.MetricsHandler)

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the root handler, wrapped with tracing, metrics and
// request logging.
func (s *Server) Handler() http.Handler { return s.handler }

// SetRunTimeout changes the per-run deadline for requests that start after
// the call.
func (s *Server) SetRunTimeout(d time.Duration) { s.runTimeout.Store(int64(d)) }

// runContext derives the context a pipeline run executes under.
func (s *Server) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := time.Duration(s.runTimeout.Load()); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
