package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimedLimiter spaces consecutive executions at least limit apart.
// Callers arriving during a busy period are chained in arrival order.
type TimedLimiter struct {
	limit time.Duration
	clock clockwork.Clock

	mu             sync.Mutex
	lastExecutedAt time.Time
}

// NewTimedLimiter builds a fixed-delay limiter.
func NewTimedLimiter(limit time.Duration, opts ...Option) *TimedLimiter {
	s := applyOptions(opts)
	return &TimedLimiter{limit: limit, clock: s.clock}
}

// Limit returns the configured spacing.
func (l *TimedLimiter) Limit() time.Duration {
	return l.limit
}

// Execute runs fn on its own goroutine once its slot arrives.
func (l *TimedLimiter) Execute(fn func()) {
	delay := l.reserve()
	if delay <= 0 {
		go fn()
		return
	}
	l.clock.AfterFunc(delay, fn)
}

// Wait blocks until the caller's slot arrives. A canceled wait keeps its slot
// reserved so later callers are not pulled ahead of the chain.
func (l *TimedLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := l.reserve()
	if delay <= 0 {
		return nil
	}
	return sleep(ctx, l.clock, delay)
}

// Reset forgets the last execution so the next call runs immediately.
func (l *TimedLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastExecutedAt = time.Time{}
}

// LastExecutedAt returns the most recently reserved start time.
func (l *TimedLimiter) LastExecutedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastExecutedAt
}

// reserve claims the next start slot and returns how long to wait for it.
func (l *TimedLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.lastExecutedAt.IsZero() || now.Sub(l.lastExecutedAt) > l.limit {
		l.lastExecutedAt = now
		return 0
	}
	next := l.lastExecutedAt.Add(l.limit)
	l.lastExecutedAt = next
	return next.Sub(now)
}
