package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/config"
	"github.com/rpcfleet/rpcfleet/internal/core/cache"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	apperrors "github.com/rpcfleet/rpcfleet/internal/errors"
	"github.com/rpcfleet/rpcfleet/internal/observability"
	"github.com/rpcfleet/rpcfleet/internal/server/handlers"
	servermw "github.com/rpcfleet/rpcfleet/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int

	timeouts   config.ServerConfig
	health     *handlers.HealthManager
	pool       *handlers.PoolHandlers
	gatherer   prometheus.Gatherer
	adminToken string
}

// Option configures a Server.
type Option func(*Server)

// WithPool exposes the registry on /v1/pool and gates readiness on it.
func WithPool(registry *pool.Registry, probeTimeout time.Duration) Option {
	return func(s *Server) {
		s.pool.Registry = registry
		s.pool.ProbeTimeout = probeTimeout
		s.health.RegisterChecker("pool", handlers.PoolChecker{Registry: registry})
	}
}

// WithCache exposes cache counters on /v1/cache/stats.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) { s.pool.Cache = c }
}

// WithHealthChecker adds a readiness checker.
func WithHealthChecker(name string, checker handlers.HealthChecker) Option {
	return func(s *Server) { s.health.RegisterChecker(name, checker) }
}

// WithMetrics serves gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = gatherer }
}

// WithTimeouts sets the http.Server timeouts.
func WithTimeouts(cfg config.ServerConfig) Option {
	return func(s *Server) { s.timeouts = cfg }
}

// WithAdminToken enables POST /admin/signal behind bearer auth.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		host:   host,
		port:   port,
		timeouts: config.ServerConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		health: handlers.NewHealthManager(handlers.AppVersion),
		pool:   &handlers.PoolHandlers{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprint(s.port))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.timeouts.ReadTimeout,
		WriteTimeout: s.timeouts.WriteTimeout,
		IdleTimeout:  s.timeouts.IdleTimeout,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
