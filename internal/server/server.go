// Package server provides the HTTP server and routing for matchsync.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/matchsync/internal/domain"
	"github.com/aristath/matchsync/internal/fixtures"
	"github.com/aristath/matchsync/internal/merge"
	"github.com/aristath/matchsync/internal/queue"
)

// FixtureLister serves the merged fixture list.
type FixtureLister interface {
	List(ctx context.Context, opts merge.Options) []domain.FixtureView
}

// LiveCache serves the cached snapshot and its remaining lifetime.
type LiveCache interface {
	Get(ctx context.Context) (fixtures.Snapshot, error)
	TTL(ctx context.Context) (time.Duration, error)
	Refreshing() bool
}

// JobQueue accepts refresh jobs and reports per-queue counts.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, jobType queue.JobType, payload map[string]interface{}, opts queue.Options) (*queue.Job, error)
	Status() map[string]queue.Counts
}

// HealthChecker reports whether the record store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Log        zerolog.Logger
	Port       int
	InstanceID string
	Fixtures   FixtureLister
	Live       LiveCache
	Queues     JobQueue
	Database   HealthChecker // optional, pinged by the health check
	Metrics    http.Handler  // optional, mounted at /metrics
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       Config
	startedAt time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/queues", s.handleQueues)

		r.Route("/fixtures", func(r chi.Router) {
			r.Get("/", s.handleListFixtures)
			r.Get("/live", s.handleLiveSnapshot)
			r.Post("/refresh", s.handleRefresh)
		})
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until the server stops and
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
