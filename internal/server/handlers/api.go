package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/descriptor"
	"github.com/benetwork/benetwork/internal/core/engine"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/store"
	apperrors "github.com/benetwork/benetwork/internal/errors"
	"github.com/benetwork/benetwork/internal/metrics"
	"github.com/benetwork/benetwork/internal/output"
)

const defaultMaxBodyBytes = 1 << 20

// API serves the /v1 admin endpoints over a shared orchestrator and registry.
type API struct {
	Orchestrator *engine.Orchestrator
	Registry     *limiter.Registry
	Defaults     descriptor.Defaults

	// Store backs the cache endpoints when the store cache is configured.
	Store *store.Store
	// Memory backs the cache endpoints when the in-process cache is configured.
	Memory *engine.MemoryCache

	// MaxBodyBytes bounds the fetch request body.
	MaxBodyBytes int64
	// BodyLimit truncates response bodies echoed by fetch; 0 keeps them whole.
	BodyLimit int
}

// FetchResponse is the body returned by POST /v1/fetch.
type FetchResponse struct {
	Results []output.Result `json:"results"`
}

// StatsResponse is the body returned by GET /v1/stats.
type StatsResponse struct {
	Stats        engine.Stats `json:"stats"`
	Limiters     int          `json:"limiters"`
	CacheBackend string       `json:"cache_backend"`
	CacheEntries int          `json:"cache_entries"`
}

// CacheListResponse is the body returned by GET /v1/cache.
type CacheListResponse struct {
	Entries []store.CacheEntry `json:"entries"`
	Count   int                `json:"count"`
}

// PurgeResponse reports how many entries a reset or purge touched.
type PurgeResponse struct {
	Removed int64 `json:"removed"`
}

// ResetResponse lists the limiters that were reset.
type ResetResponse struct {
	Reset []string `json:"reset"`
}

// ListLimiters handles GET /v1/limiters.
func (a *API) ListLimiters(w http.ResponseWriter, r *http.Request) {
	snapshots := a.Registry.Snapshots()
	if snapshots == nil {
		snapshots = []limiter.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// GetLimiter handles GET /v1/limiters/{name}.
func (a *API) GetLimiter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	strategy, ok := a.Registry.Get(name)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("rate limit %q not found", name)))
		return
	}
	writeJSON(w, http.StatusOK, strategy.Snapshot())
}

// ResetLimiter handles POST /v1/limiters/{name}/reset.
func (a *API) ResetLimiter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := a.Registry.Reset(name); err != nil {
		respondWithError(w, r, apperrors.WrapNotFound(r.Context(), err, "rate limit not found"))
		return
	}
	metrics.RecordLimiterReset(name)
	writeJSON(w, http.StatusOK, ResetResponse{Reset: []string{name}})
}

// ResetAllLimiters handles POST /v1/limiters/reset.
func (a *API) ResetAllLimiters(w http.ResponseWriter, r *http.Request) {
	a.Registry.ResetAll()
	names := a.Registry.Names()
	for _, name := range names {
		metrics.RecordLimiterReset(name)
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, ResetResponse{Reset: names})
}

// Fetch handles POST /v1/fetch with a YAML or JSON descriptor body, and
// GET /v1/fetch?url=... for a single ad-hoc GET.
//
// A single request that fails is reported with its mapped error status; a
// batch always answers 200 with per-request results.
func (a *API) Fetch(w http.ResponseWriter, r *http.Request) {
	requests, err := a.requestsFrom(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	includeBody, _ := strconv.ParseBool(r.URL.Query().Get("body"))
	results := make([]output.Result, 0, len(requests))
	for _, req := range requests {
		resp, doErr := a.Orchestrator.Do(r.Context(), req)
		if doErr != nil && len(requests) == 1 {
			respondWithError(w, r, doErr)
			return
		}
		result := output.NewResult(req, resp, doErr)
		if includeBody && resp != nil {
			result = result.WithBody(resp.Body, a.BodyLimit)
		}
		results = append(results, result)
	}

	writeJSON(w, http.StatusOK, FetchResponse{Results: results})
}

func (a *API) requestsFrom(r *http.Request) ([]*core.Request, error) {
	if r.Method == http.MethodGet {
		raw := strings.TrimSpace(r.URL.Query().Get("url"))
		if raw == "" {
			return nil, apperrors.NewInvalidInputError("url query parameter is required")
		}
		req, err := descriptor.ForURL(raw, a.Defaults)
		if err != nil {
			return nil, apperrors.WrapInvalidInput(r.Context(), err, "invalid url")
		}
		return []*core.Request{req}, nil
	}

	limit := a.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	specs, err := descriptor.Parse(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, apperrors.WrapInvalidInput(r.Context(), err, "invalid request descriptor")
	}
	requests, err := descriptor.BuildAll(specs, a.Registry, a.Defaults)
	if err != nil {
		return nil, apperrors.WrapInvalidInput(r.Context(), err, "invalid request descriptor")
	}
	return requests, nil
}

// Stats handles GET /v1/stats.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Stats:        a.Orchestrator.Stats(),
		Limiters:     len(a.Registry.Names()),
		CacheBackend: a.cacheBackend(),
	}

	switch {
	case a.Store != nil:
		count, err := a.Store.CountCacheEntries(r.Context(), store.CacheQuery{All: true})
		if err != nil {
			respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to count cache entries"))
			return
		}
		resp.CacheEntries = count
	case a.Memory != nil:
		resp.CacheEntries = a.Memory.Len()
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListCache handles GET /v1/cache. Only the store backend can enumerate entries.
func (a *API) ListCache(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil {
		respondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "cache listing requires the store cache backend"))
		return
	}

	query := cacheQueryFrom(r)
	if query == (store.CacheQuery{}) {
		query.All = true
	}
	entries, err := a.Store.ListCacheEntries(r.Context(), query)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list cache entries"))
		return
	}
	if entries == nil {
		entries = []store.CacheEntry{}
	}
	writeJSON(w, http.StatusOK, CacheListResponse{Entries: entries, Count: len(entries)})
}

// PurgeCache handles DELETE /v1/cache?all=true|key=...|prefix=...|expired=true.
func (a *API) PurgeCache(w http.ResponseWriter, r *http.Request) {
	query := cacheQueryFrom(r)
	if err := query.Validate(); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid cache query"))
		return
	}

	removed, err := a.purge(r.Context(), query)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{Removed: removed})
}

func (a *API) purge(ctx context.Context, query store.CacheQuery) (int64, error) {
	switch {
	case a.Store != nil:
		removed, err := a.Store.PurgeCacheEntries(ctx, query)
		if err != nil {
			return 0, apperrors.WrapDatabaseError(ctx, err, "failed to purge cache entries")
		}
		return removed, nil
	case a.Memory != nil:
		switch {
		case query.Key != "":
			before := a.Memory.Len()
			a.Memory.Delete(query.Key)
			return int64(before - a.Memory.Len()), nil
		case query.All:
			return int64(a.Memory.Purge()), nil
		default:
			return 0, apperrors.NewInvalidInputError("the memory cache supports only all or key purges")
		}
	default:
		return 0, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "no response cache configured")
	}
}

func (a *API) cacheBackend() string {
	switch {
	case a.Store != nil:
		return "store"
	case a.Memory != nil:
		return "memory"
	default:
		return "none"
	}
}

func cacheQueryFrom(r *http.Request) store.CacheQuery {
	values := r.URL.Query()
	all, _ := strconv.ParseBool(values.Get("all"))
	expired, _ := strconv.ParseBool(values.Get("expired"))
	key := strings.TrimSpace(values.Get("key"))
	if normalized, err := core.NormalizeKey(key, nil); err == nil {
		key = normalized
	}
	return store.CacheQuery{
		All:     all,
		Key:     key,
		Prefix:  strings.TrimSpace(values.Get("prefix")),
		Expired: expired,
	}
}
