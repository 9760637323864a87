package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TokenBucket holds up to capacity tokens and refills tokensPerInterval tokens
// every interval. Refill happens lazily when the bucket is accessed.
type TokenBucket struct {
	capacity          int
	tokensPerInterval int
	interval          time.Duration
	pollInterval      time.Duration
	clock             clockwork.Clock

	mu                sync.Mutex
	tokens            int
	lastReplenishedAt time.Time
}

// NewTokenBucket builds a bucket. The bucket starts empty unless WithInitialTokens is given.
func NewTokenBucket(capacity, tokensPerInterval int, interval time.Duration, opts ...Option) *TokenBucket {
	if capacity < 1 {
		panic(fmt.Sprintf("limiter: token bucket capacity must be >= 1, got %d", capacity))
	}
	if tokensPerInterval < 1 {
		panic(fmt.Sprintf("limiter: tokens per interval must be >= 1, got %d", tokensPerInterval))
	}
	if interval <= 0 {
		panic(fmt.Sprintf("limiter: token bucket interval must be positive, got %s", interval))
	}

	s := applyOptions(opts)
	return &TokenBucket{
		capacity:          capacity,
		tokensPerInterval: tokensPerInterval,
		interval:          interval,
		pollInterval:      s.pollInterval,
		clock:             s.clock,
		tokens:            min(s.initialTokens, capacity),
		lastReplenishedAt: s.clock.Now(),
	}
}

// Capacity returns the maximum token count.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// Tokens returns the current token count after replenishing.
func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.replenishLocked(b.clock.Now())
	return b.tokens
}

// Consume blocks until n tokens are available and removes them.
// Requesting more tokens than the bucket can ever hold panics.
func (b *TokenBucket) Consume(ctx context.Context, n int) error {
	b.checkRequest(n)
	if n <= 0 {
		return nil
	}
	for {
		if b.take(n) {
			return nil
		}
		if err := sleep(ctx, b.clock, b.pollInterval); err != nil {
			return err
		}
	}
}

// TryConsume behaves like Consume but gives up once deadline passes.
func (b *TokenBucket) TryConsume(n int, deadline time.Time) bool {
	b.checkRequest(n)
	if n <= 0 {
		return true
	}
	for {
		if b.take(n) {
			return true
		}
		remaining := deadline.Sub(b.clock.Now())
		if remaining <= 0 {
			return false
		}
		_ = sleep(context.Background(), b.clock, min(remaining, b.pollInterval))
	}
}

func (b *TokenBucket) checkRequest(n int) {
	if n > b.capacity {
		panic(fmt.Sprintf("limiter: cannot consume %d tokens from a bucket with capacity %d", n, b.capacity))
	}
}

func (b *TokenBucket) take(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.replenishLocked(b.clock.Now())
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

func (b *TokenBucket) replenishLocked(now time.Time) {
	elapsed := now.Sub(b.lastReplenishedAt)
	if elapsed < b.interval {
		return
	}
	intervals := int64(elapsed / b.interval)
	if intervals >= int64(b.capacity) {
		b.tokens = b.capacity
	} else {
		b.tokens = min(b.tokens+int(intervals)*b.tokensPerInterval, b.capacity)
	}
	b.lastReplenishedAt = b.lastReplenishedAt.Add(time.Duration(intervals) * b.interval)
}
