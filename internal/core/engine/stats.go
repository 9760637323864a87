package engine

import "go.uber.org/atomic"

// Stats is a snapshot of orchestrator counters.
type Stats struct {
	Requests         int64 `json:"requests"`
	Attempts         int64 `json:"attempts"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	RateLimitRetries int64 `json:"rate_limit_retries"`
	TimeoutRetries   int64 `json:"timeout_retries"`
	GenericRetries   int64 `json:"generic_retries"`
	CacheHits        int64 `json:"cache_hits"`
	CacheMisses      int64 `json:"cache_misses"`
	CacheWrites      int64 `json:"cache_writes"`
	Deduplicated     int64 `json:"deduplicated"`
}

type counters struct {
	requests         atomic.Int64
	attempts         atomic.Int64
	completed        atomic.Int64
	failed           atomic.Int64
	rateLimitRetries atomic.Int64
	timeoutRetries   atomic.Int64
	genericRetries   atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	cacheWrites      atomic.Int64
	deduplicated     atomic.Int64
}

// Stats returns the current counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Requests:         o.stats.requests.Load(),
		Attempts:         o.stats.attempts.Load(),
		Completed:        o.stats.completed.Load(),
		Failed:           o.stats.failed.Load(),
		RateLimitRetries: o.stats.rateLimitRetries.Load(),
		TimeoutRetries:   o.stats.timeoutRetries.Load(),
		GenericRetries:   o.stats.genericRetries.Load(),
		CacheHits:        o.stats.cacheHits.Load(),
		CacheMisses:      o.stats.cacheMisses.Load(),
		CacheWrites:      o.stats.cacheWrites.Load(),
		Deduplicated:     o.stats.deduplicated.Load(),
	}
}

// Retries returns the total number of retried attempts.
func (s Stats) Retries() int64 {
	return s.RateLimitRetries + s.TimeoutRetries + s.GenericRetries
}
