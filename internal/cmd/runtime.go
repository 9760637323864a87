package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/multierr"

	"github.com/benetwork/benetwork/internal/config"
	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/descriptor"
	"github.com/benetwork/benetwork/internal/core/engine"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/store"
	"github.com/benetwork/benetwork/internal/core/transport"
	"github.com/benetwork/benetwork/internal/observability"
	"github.com/benetwork/benetwork/internal/server/handlers"
)

// appRuntime is the wired request pipeline shared by fetch, batch and serve.
type appRuntime struct {
	cfg          *config.Config
	registry     *limiter.Registry
	orchestrator *engine.Orchestrator
	transport    *transport.HTTP
	store        *store.Store
	memory       *engine.MemoryCache
	defaults     descriptor.Defaults
}

// buildRuntime wires config into registry, transport, cache and orchestrator.
func buildRuntime(ctx context.Context, cfg *config.Config, client *http.Client) (*appRuntime, error) {
	registry, err := limiter.BuildRegistry(cfg.RateLimits)
	if err != nil {
		return nil, err
	}

	tr := transport.New(client, cfg.HTTP.Timeout, cfg.HTTP.UserAgent)
	tr.MaxBodyBytes = cfg.HTTP.MaxBodyBytes

	rt := &appRuntime{
		cfg:       cfg,
		registry:  registry,
		transport: tr,
		defaults: descriptor.Defaults{
			Retry: core.RetryPolicy{
				Limit:       cfg.Retry.Limit,
				OnRateLimit: cfg.Retry.OnRateLimit,
				OnTimeout:   cfg.Retry.OnTimeout,
			},
			CacheTTL: cfg.Cache.DefaultTTL,
			Timeout:  cfg.HTTP.Timeout,
		},
	}

	orchestrator := &engine.Orchestrator{
		Transport: tr,
		Logger:    observability.Logger(),
		Trace:     cfg.Debug.TraceRequests,
		Dedupe:    cfg.DedupeRequests,
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Backend)) {
	case config.CacheStore:
		db, err := openStoreWith(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open response cache: %w", err)
		}
		rt.store = db
		orchestrator.Cache = db
	case config.CacheNone:
		rt.defaults.CacheTTL = 0
	default:
		rt.memory = engine.NewMemoryCache(nil, cfg.Cache.MaxEntries)
		orchestrator.Cache = rt.memory
	}

	rt.orchestrator = orchestrator
	return rt, nil
}

// api exposes the runtime to the admin server handlers.
func (rt *appRuntime) api() *handlers.API {
	return &handlers.API{
		Orchestrator: rt.orchestrator,
		Registry:     rt.registry,
		Defaults:     rt.defaults,
		Store:        rt.store,
		Memory:       rt.memory,
		MaxBodyBytes: rt.cfg.HTTP.MaxBodyBytes,
	}
}

// buildSpecs binds descriptor specs to the registry and config defaults.
func (rt *appRuntime) buildSpecs(specs []descriptor.Spec) ([]*core.Request, error) {
	return descriptor.BuildAll(specs, rt.registry, rt.defaults)
}

func (rt *appRuntime) Close() error {
	var err error
	if rt.store != nil {
		err = multierr.Append(err, rt.store.Close())
	}
	if rt.memory != nil {
		rt.memory.Purge()
	}
	return err
}
