package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/benetwork/benetwork/internal/core/limiter"
)

func testRegistry(t *testing.T) *limiter.Registry {
	t.Helper()
	registry, err := limiter.BuildRegistry(map[string]limiter.Config{
		"api":    limiter.PerInterval(10, time.Second),
		"search": limiter.Debounced(time.Second),
		"slow":   limiter.FixedDelay(time.Second),
	}, limiter.WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)
	return registry
}

func scrape(t *testing.T, registry *limiter.Registry) string {
	t.Helper()
	handler, err := LimiterHandler(registry)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/limiters", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestLimiterCollectorReportsFrequencyState(t *testing.T) {
	registry := testRegistry(t)
	api, _ := registry.Get("api")
	for i := 0; i < 10; i++ {
		api.InformRateLimitHit()
	}

	body := scrape(t, registry)
	require.Contains(t, body, `benetwork_limiter_current_limit{limiter="api",type="frequency"} 9`)
	require.Contains(t, body, `benetwork_limiter_decreases{limiter="api",type="frequency"} 1`)
	require.Contains(t, body, `benetwork_limiter_adjustment_enabled{limiter="api",type="frequency"} 0`)
	require.NotContains(t, body, `limiter="slow"`)
}

func TestLimiterHandlerServesMetrics(t *testing.T) {
	body := scrape(t, testRegistry(t))
	require.Contains(t, body, `benetwork_limiter_baseline_limit{limiter="api",type="frequency"} 10`)
	require.Contains(t, body, `benetwork_limiter_pending{limiter="search",type="debounce"} 0`)
	require.True(t, strings.Contains(body, "# TYPE benetwork_limiter_in_window gauge"))
}
