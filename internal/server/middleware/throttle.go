package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"

	"github.com/benetwork/benetwork/internal/metrics"
)

// Throttle rejects requests beyond rps (with burst) with 429 TOO_MANY_REQUESTS.
// A non-positive rps disables throttling.
func Throttle(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			envelope := errors.NewErrorEnvelope("TOO_MANY_REQUESTS", "admin API request rate exceeded").
				WithCorrelationID(GetRequestID(r.Context()))
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"requests_per_second": rps,
				"burst":               burst,
			})
			metrics.RecordError(envelope.Code, http.StatusTooManyRequests)

			w.Header().Set("Retry-After", retryAfter)
			writeErrorResponse(w, envelope, http.StatusTooManyRequests)
		})
	}
}
