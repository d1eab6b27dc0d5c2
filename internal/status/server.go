package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/soyeahso/hyperloop/internal/logging"
	"github.com/soyeahso/hyperloop/internal/metrics"
	"github.com/soyeahso/hyperloop/internal/store"
)

// Server serves /healthz, /status, /metrics, the run history and the
// /events websocket.
type Server struct {
	addr    string
	tracker *Tracker
	metrics *metrics.Metrics
	runs    store.RunStore
	events  *Hub
	log     *logging.Logger

	mu         sync.Mutex
	ln         net.Listener
	httpServer *http.Server
}

// Option configures the status server.
type Option func(*Server)

// WithMetrics serves m on /metrics and instruments every request.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRuns serves run history from rs on /runs.
func WithRuns(rs store.RunStore) Option {
	return func(s *Server) {
		if rs != nil {
			s.runs = rs
		}
	}
}

// WithEvents serves hub on /events.
func WithEvents(hub *Hub) Option {
	return func(s *Server) {
		s.events = hub
	}
}

// New creates a status server listening on addr.
func New(addr string, tracker *Tracker, log *logging.Logger, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		tracker: tracker,
		runs:    store.Discard,
		log:     log.Sub("status"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.handleRuns)
		r.Get("/{id}", s.handleRun)
	})
	if s.events != nil {
		r.Method(http.MethodGet, "/events", s.events)
	}
	r.NotFound(handleNotFound)
	return r
}

// Start listens on the configured address and serves until ctx is done.
// It returns once in-flight requests have drained or the 5s shutdown
// timeout has passed.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.ln = ln
	s.httpServer = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("status server ready")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		s.log.Info().Msg("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("status server shutdown incomplete")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

// Addr returns the bound listen address, or "" if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
