package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketReplenishIsCappedAndKeepsRemainder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bucket := NewTokenBucket(5, 2, time.Second, WithClock(clock))
	require.Equal(t, 0, bucket.Tokens())

	clock.Advance(1500 * time.Millisecond)
	require.Equal(t, 2, bucket.Tokens())

	// The half interval left over from the previous refill still counts.
	clock.Advance(500 * time.Millisecond)
	require.Equal(t, 4, bucket.Tokens())

	clock.Advance(10 * time.Second)
	require.Equal(t, 5, bucket.Tokens())
}

func TestTokenBucketConsumeDecrements(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bucket := NewTokenBucket(5, 1, time.Second, WithClock(clock), WithInitialTokens(3))

	require.NoError(t, bucket.Consume(context.Background(), 2))
	require.Equal(t, 1, bucket.Tokens())
	require.NoError(t, bucket.Consume(context.Background(), 0))
	require.Equal(t, 1, bucket.Tokens())
}

func TestTokenBucketInitialTokensCapped(t *testing.T) {
	bucket := NewTokenBucket(2, 1, time.Second, WithClock(clockwork.NewFakeClock()), WithInitialTokens(10))
	require.Equal(t, 2, bucket.Tokens())
}

func TestTokenBucketConsumeBlocksUntilRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bucket := NewTokenBucket(1, 1, time.Second, WithClock(clock))

	done := make(chan error, 1)
	go func() {
		done <- bucket.Consume(context.Background(), 1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	select {
	case <-done:
		t.Fatal("consume returned before tokens were available")
	default:
	}

	clock.Advance(time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after refill")
	}
	require.Equal(t, 0, bucket.Tokens())
}

func TestTokenBucketConsumeHonoursContext(t *testing.T) {
	bucket := NewTokenBucket(1, 1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bucket.Consume(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTokenBucketTryConsume(t *testing.T) {
	bucket := NewTokenBucket(2, 1, time.Hour, WithInitialTokens(1), WithPollInterval(5*time.Millisecond))

	require.True(t, bucket.TryConsume(1, time.Now().Add(50*time.Millisecond)))
	require.False(t, bucket.TryConsume(1, time.Now().Add(30*time.Millisecond)))
}

func TestTokenBucketOverCapacityPanics(t *testing.T) {
	bucket := NewTokenBucket(2, 1, time.Second)
	require.Panics(t, func() {
		_ = bucket.Consume(context.Background(), 3)
	})
	require.Panics(t, func() {
		bucket.TryConsume(3, time.Now())
	})
}

func TestTokenBucketInvalidConstruction(t *testing.T) {
	require.Panics(t, func() { NewTokenBucket(0, 1, time.Second) })
	require.Panics(t, func() { NewTokenBucket(1, 0, time.Second) })
	require.Panics(t, func() { NewTokenBucket(1, 1, 0) })
}
