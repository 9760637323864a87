package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/benetwork/benetwork/internal/config"
	apperrors "github.com/benetwork/benetwork/internal/errors"
	"github.com/benetwork/benetwork/internal/metrics"
	"github.com/benetwork/benetwork/internal/observability"
	"github.com/benetwork/benetwork/internal/server/handlers"
	servermw "github.com/benetwork/benetwork/internal/server/middleware"
)

// Options carries the collaborators the routes serve.
type Options struct {
	API    *handlers.API
	Health *handlers.HealthManager
	// MetricsPort is the exporter port /metrics proxies to when the exporter
	// has not reported one.
	MetricsPort int
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

// Server is the admin HTTP server.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	cfg         config.ServerConfig
	api         *handlers.API
	health      *handlers.HealthManager
	metricsPort int
	startedAt   time.Time
}

// New builds the router. API may be nil, in which case only health, version
// and metrics routes are served.
func New(cfg config.ServerConfig, opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	health := opts.Health
	if health == nil {
		health = handlers.NewHealthManager(handlers.AppVersion)
	}

	s := &Server{
		router:      r,
		cfg:         cfg,
		api:         opts.API,
		health:      health,
		metricsPort: opts.MetricsPort,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerHealthChecks()
	s.registerRoutes()
	if opts.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	return s
}

// Addr returns host:port from the server config.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start listens on the configured address and blocks until shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener and blocks until shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, 120*time.Second),
	}
	s.startedAt = time.Now()
	metrics.SetServerStartTime(s.startedAt.Unix())

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("addr", listener.Addr().String()),
			zap.Float64("requests_per_second", s.cfg.RequestsPerSecond),
			zap.Int("burst", s.cfg.Burst))
	}

	err := s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	if !s.startedAt.IsZero() {
		metrics.SetServerUptime(int64(time.Since(s.startedAt).Seconds()))
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
