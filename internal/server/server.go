// Package server exposes the collector's read-only status API over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/bookbias/internal/server/handler"
	"github.com/alanyoungcy/bookbias/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit requests per RateWindow per client; zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the endpoint handlers. Exports and Stream may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Samples *handler.SampleHandler
	Exports *handler.ExportHandler
	Stream  *handler.StreamHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the router. gatherer backs /metrics; limiter may be nil.
func NewServer(cfg Config, h Handlers, gatherer prometheus.Gatherer, limiter middleware.Limiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      newRouter(cfg, h, gatherer, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func newRouter(cfg Config, h Handlers, gatherer prometheus.Gatherer, limiter middleware.Limiter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Auth(cfg.APIKey, "/api/health", "/metrics"))
	if limiter != nil && cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow))
	}

	r.Get("/api/health", h.Health.HealthCheck)
	r.Get("/api/status", h.Status.GetStatus)
	r.Get("/api/samples", h.Samples.List)
	r.Get("/api/samples/latest", h.Samples.Latest)
	if h.Stream != nil {
		r.Get("/api/samples/stream", h.Stream.Stream)
	}
	if h.Exports != nil {
		r.Get("/api/exports", h.Exports.List)
		r.Get("/api/exports/{name}", h.Exports.Get)
	}
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
