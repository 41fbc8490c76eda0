// Package server exposes runs and the stepwise agent surface over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/entrhq/operator/pkg/agent"
	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/session"
)

// DefaultShutdownTimeout bounds draining on shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// Sessions is the registry surface the server uses.
type Sessions interface {
	List() []session.Info
	ReleaseAll(ctx context.Context) error
}

var _ Sessions = (*session.Registry)(nil)

// Config holds server settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server serves the operator API.
type Server struct {
	cfg        Config
	runner     *agent.Runner
	controller *agent.Controller
	sessions   Sessions
	metrics    *metrics.Metrics
	logger     *logging.Logger
	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server.
func New(cfg Config, runner *agent.Runner, controller *agent.Controller, sessions Sessions, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		cfg:        cfg,
		runner:     runner,
		controller: controller,
		sessions:   sessions,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger("server")
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)

	router.Route("/api", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleLaunchRun)
			r.Get("/{runID}", s.handleGetRun)
			r.Post("/{runID}/resume", s.handleResumeRun)
			r.Delete("/{runID}", s.handleCancelRun)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/{sessionID}/start", s.handleStart)
			r.Post("/{sessionID}/next", s.handleNext)
			r.Post("/{sessionID}/apply", s.handleApply)
			r.Delete("/{sessionID}", s.handleReleaseSession)
		})
	})

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return router
}

// Run serves until ctx ends, then stops accepting requests, cancels live
// runs and releases every session.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           h2c.NewHandler(s.router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Infof("Listening on %s", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}
	return errors.Join(err, s.shutdown())
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.runner.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.sessions.ReleaseAll(ctx); err != nil {
		errs = append(errs, err)
	}
	s.logger.Infof("Server stopped")
	return errors.Join(errs...)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}
