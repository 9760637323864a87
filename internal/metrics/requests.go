package metrics

import (
	"strconv"
	"time"

	"github.com/benetwork/benetwork/internal/observability"
)

// Outbound request metrics.
const (
	RequestsTotal      = "benetwork_requests_total"
	RequestDuration    = "benetwork_request_duration_ms"
	RetriesTotal       = "benetwork_retries_total"
	CacheLookupsTotal  = "benetwork_cache_lookups_total"
	CacheWritesTotal   = "benetwork_cache_writes_total"
	LimiterResetsTotal = "benetwork_limiter_resets_total"
)

// OutcomeCompleted tags requests that ended with a response.
const OutcomeCompleted = "completed"

const (
	cacheResultHit      = "hit"
	cacheResultMiss     = "miss"
	cacheWriteSucceeded = "stored"
	cacheWriteFailed    = "failed"
)

// RecordRequest records the terminal outcome of an orchestrated request.
func RecordRequest(request string, outcome string, status int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	tags := map[string]string{
		"request": request,
		"outcome": outcome,
		"status":  strconv.Itoa(status),
	}
	_ = observability.TelemetrySystem.Counter(RequestsTotal, 1, tags)
	_ = observability.TelemetrySystem.Histogram(RequestDuration, duration, map[string]string{"request": request})
}

// RecordRetry records one retried attempt and why it was retried.
func RecordRetry(request string, reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RetriesTotal,
			1,
			map[string]string{
				"request": request,
				"reason":  reason,
			},
		)
	}
}

// RecordCacheLookup records a response cache hit or miss.
func RecordCacheLookup(request string, hit bool) {
	result := cacheResultMiss
	if hit {
		result = cacheResultHit
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{
				"request": request,
				"result":  result,
			},
		)
	}
}

// RecordCacheWrite records a response cache write.
func RecordCacheWrite(request string, success bool) {
	result := cacheWriteSucceeded
	if !success {
		result = cacheWriteFailed
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheWritesTotal,
			1,
			map[string]string{
				"request": request,
				"result":  result,
			},
		)
	}
}

// RecordLimiterReset records a manual limiter reset.
func RecordLimiterReset(name string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(LimiterResetsTotal, 1, map[string]string{"limiter": name})
	}
}
