package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/benetwork/benetwork/internal/appid"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/metrics"
	"github.com/benetwork/benetwork/internal/observability"
	"github.com/benetwork/benetwork/internal/server/handlers"
	servermw "github.com/benetwork/benetwork/internal/server/middleware"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", s.MetricsHandler)

	if s.api != nil {
		s.registerLimiterMetrics()

		api := s.api
		s.router.Route("/v1", func(r chi.Router) {
			r.Use(servermw.Throttle(s.cfg.RequestsPerSecond, s.cfg.Burst))

			r.Get("/limiters", api.ListLimiters)
			r.Post("/limiters/reset", api.ResetAllLimiters)
			r.Get("/limiters/{name}", api.GetLimiter)
			r.Post("/limiters/{name}/reset", api.ResetLimiter)

			r.Get("/fetch", api.Fetch)
			r.Post("/fetch", api.Fetch)
			r.Get("/stats", api.Stats)

			r.Get("/cache", api.ListCache)
			r.Delete("/cache", api.PurgeCache)
		})
	}

	s.registerAdminEndpoint()
}

func (s *Server) registerLimiterMetrics() {
	handler, err := metrics.LimiterHandler(s.api.Registry)
	if err != nil {
		if logger := observability.ServerLogger; logger != nil {
			logger.Warn("Limiter metrics disabled", zap.Error(err))
		}
		return
	}
	s.router.Method("GET", "/metrics/limiters", handler)
}

// registerHealthChecks wires the store and limiter registry into /health.
func (s *Server) registerHealthChecks() {
	if s.api == nil {
		return
	}

	registry := s.api.Registry
	s.health.RegisterChecker("limiters", handlers.CheckerFunc(func(ctx context.Context) error {
		return limitersHealth(registry, time.Now())
	}))

	if st := s.api.Store; st != nil && st.DB != nil {
		s.health.RegisterChecker("store", handlers.CheckerFunc(func(ctx context.Context) error {
			return st.DB.PingContext(ctx)
		}))
	}
}

// limitersHealth reports degraded while any frequency limiter is cooling down.
func limitersHealth(registry *limiter.Registry, now time.Time) error {
	for _, snap := range registry.Snapshots() {
		if snap.CooldownUntil != nil && snap.CooldownUntil.After(now) {
			return fmt.Errorf("rate limit %q cooling down until %s: %w",
				snap.Name, snap.CooldownUntil.Format(time.RFC3339), handlers.ErrDegraded)
		}
	}
	return nil
}

// registerAdminEndpoint mounts /admin/signal when <PREFIX>ADMIN_TOKEN is set.
func (s *Server) registerAdminEndpoint() {
	envPrefix := appid.Default.EnvPrefix
	if identity, err := appid.Get(context.Background()); err == nil && identity != nil && identity.EnvPrefix != "" {
		envPrefix = identity.EnvPrefix
	}

	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
