// Package server exposes the read-only diagnostics surface over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ratefence/ratefence/internal/core/engine"
	"github.com/ratefence/ratefence/internal/observability"
	"github.com/ratefence/ratefence/internal/server/handlers"
	servermw "github.com/ratefence/ratefence/internal/server/middleware"
)

// Server represents the diagnostics HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	host    string
	port    int
	limiter *engine.Limiter
}

// New creates a new HTTP server instance
func New(host string, port int, limiter *engine.Limiter) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		router:  r,
		host:    host,
		port:    port,
		limiter: limiter,
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/ratelimit/stats", handlers.StatsHandler(s.limiter.Snapshot))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting diagnostics server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down diagnostics server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}
