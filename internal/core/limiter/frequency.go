package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// hitsPerDecrease is the number of rate-limit signals that trigger one decrease.
	hitsPerDecrease = 10
	// Each decrease keeps nine tenths of the current limit, rounded down.
	decreaseNumerator   = 9
	decreaseDenominator = 10
)

// FrequencyRateLimiter admits at most currentRateLimit starts per rolling
// interval and lowers that limit when upstream signals rate limiting.
type FrequencyRateLimiter struct {
	requestsPerInterval int
	interval            time.Duration
	backend             Backend
	clock               clockwork.Clock
	pollInterval        time.Duration

	mu               sync.Mutex
	currentRateLimit int
	adjusting        bool
	hits             int
	cooldownUntil    time.Time
	decreases        int
	window           []time.Time
	bucket           *TokenBucket
	bucketSince      time.Time
}

// NewFrequencyRateLimiter builds a limiter allowing requests starts per interval.
func NewFrequencyRateLimiter(requests int, interval time.Duration, opts ...Option) *FrequencyRateLimiter {
	if requests < 1 {
		panic(fmt.Sprintf("limiter: requests per interval must be >= 1, got %d", requests))
	}
	if interval <= 0 {
		panic(fmt.Sprintf("limiter: frequency interval must be positive, got %s", interval))
	}

	s := applyOptions(opts)
	l := &FrequencyRateLimiter{
		requestsPerInterval: requests,
		interval:            interval,
		backend:             s.backend,
		clock:               s.clock,
		pollInterval:        s.pollInterval,
	}
	l.resetLocked()
	return l
}

// Execute runs fn on its own goroutine once admitted.
func (l *FrequencyRateLimiter) Execute(fn func()) {
	go func() {
		if err := l.Wait(context.Background()); err == nil {
			fn()
		}
	}()
}

// Wait blocks until the caller is admitted.
func (l *FrequencyRateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay, admitted := l.admit()
		if admitted {
			return nil
		}
		if err := sleep(ctx, l.clock, delay); err != nil {
			return err
		}
	}
}

// admit records a start when allowed, otherwise returns how long to wait.
func (l *FrequencyRateLimiter) admit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Before(l.cooldownUntil) {
		return l.cooldownUntil.Sub(now), false
	}

	l.pruneLocked(now)
	if l.backend == BackendTokenBucket {
		if !l.bucket.take(1) {
			return max(l.bucketSince.Add(l.bucketStep()).Sub(now), l.pollInterval), false
		}
		// A fresh empty bucket per start keeps an idle token from being
		// spent back to back with the next refill.
		l.bucket = l.newBucket(l.currentRateLimit)
		l.window = append(l.window, now)
		return 0, true
	}

	if len(l.window) < l.currentRateLimit {
		l.window = append(l.window, now)
		return 0, true
	}
	// The oldest start still in the window leaves it after one interval.
	oldest := l.window[len(l.window)-l.currentRateLimit]
	return oldest.Add(l.interval).Sub(now), false
}

func (l *FrequencyRateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.interval)
	drop := 0
	for drop < len(l.window) && !l.window[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.window = append(l.window[:0], l.window[drop:]...)
	}
}

// InformRateLimitHit records an upstream rate-limit signal. Every tenth
// signal while adjustment is enabled lowers the limit by ten percent and
// pauses admissions for one interval.
func (l *FrequencyRateLimiter) InformRateLimitHit() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentRateLimit <= 1 || !l.adjusting {
		return
	}
	l.hits++
	if l.hits%hitsPerDecrease != 0 {
		return
	}

	l.currentRateLimit = max(1, l.currentRateLimit*decreaseNumerator/decreaseDenominator)
	l.adjusting = false
	l.hits = 0
	l.decreases++
	if until := l.clock.Now().Add(l.interval); until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
	if l.backend == BackendTokenBucket {
		l.bucket = l.newBucket(l.currentRateLimit)
	}
}

// DeferFor holds admissions for at least d from now, extending any cooldown
// already in progress. Adjustment state is left alone.
func (l *FrequencyRateLimiter) DeferFor(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if until := l.clock.Now().Add(d); until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}
}

// InformSuccessfulCompletion re-arms adjustment after a decrease.
func (l *FrequencyRateLimiter) InformSuccessfulCompletion() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.adjusting {
		l.adjusting = true
		l.hits = 0
	}
}

// Reset restores the baseline limit and clears all runtime state.
func (l *FrequencyRateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

func (l *FrequencyRateLimiter) resetLocked() {
	l.currentRateLimit = l.requestsPerInterval
	l.adjusting = true
	l.hits = 0
	l.cooldownUntil = time.Time{}
	l.decreases = 0
	l.window = nil
	if l.backend == BackendTokenBucket {
		l.bucket = l.newBucket(l.currentRateLimit)
	}
}

// newBucket returns an empty single-token bucket refilled once per
// interval/limit, so consecutive starts are at least that far apart and no
// interval-length window holds more than limit starts.
func (l *FrequencyRateLimiter) newBucket(limit int) *TokenBucket {
	l.bucketSince = l.clock.Now()
	return NewTokenBucket(1, 1, spacing(l.interval, limit), WithClock(l.clock), WithPollInterval(l.pollInterval))
}

func (l *FrequencyRateLimiter) bucketStep() time.Duration {
	return spacing(l.interval, l.currentRateLimit)
}

// spacing is interval/limit rounded up to the next nanosecond.
func spacing(interval time.Duration, limit int) time.Duration {
	n := time.Duration(limit)
	return (interval + n - 1) / n
}

// CurrentRateLimit returns the effective per-interval limit.
func (l *FrequencyRateLimiter) CurrentRateLimit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRateLimit
}

// FrequencyState is a point-in-time view of a frequency limiter.
type FrequencyState struct {
	Baseline          int
	CurrentRateLimit  int
	Interval          time.Duration
	Backend           Backend
	AdjustmentEnabled bool
	Hits              int
	Decreases         int
	InWindow          int
	CooldownUntil     time.Time
}

// State returns a snapshot of the limiter.
func (l *FrequencyRateLimiter) State() FrequencyState {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := FrequencyState{
		Baseline:          l.requestsPerInterval,
		CurrentRateLimit:  l.currentRateLimit,
		Interval:          l.interval,
		Backend:           l.backend,
		AdjustmentEnabled: l.adjusting,
		Hits:              l.hits,
		Decreases:         l.decreases,
		CooldownUntil:     l.cooldownUntil,
	}
	l.pruneLocked(l.clock.Now())
	state.InWindow = len(l.window)
	return state
}
