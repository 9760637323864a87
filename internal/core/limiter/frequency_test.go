package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestFrequencyRateLimiterWindowBound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewFrequencyRateLimiter(3, time.Second, WithClock(clock))

	for i := 0; i < 3; i++ {
		_, ok := l.admit()
		require.True(t, ok)
	}
	delay, ok := l.admit()
	require.False(t, ok)
	require.Equal(t, time.Second, delay)

	clock.Advance(time.Second)
	_, ok = l.admit()
	require.True(t, ok)
}

func TestFrequencyRateLimiterNeverExceedsLimitInAnyWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewFrequencyRateLimiter(4, time.Second, WithClock(clock))

	var starts []time.Time
	for step := 0; step < 60; step++ {
		for attempt := 0; attempt < 3; attempt++ {
			if _, ok := l.admit(); ok {
				starts = append(starts, clock.Now())
			}
		}
		clock.Advance(70 * time.Millisecond)
	}

	require.NotEmpty(t, starts)
	for i, start := range starts {
		count := 0
		for _, other := range starts[i:] {
			if other.Sub(start) < time.Second {
				count++
			}
		}
		require.LessOrEqual(t, count, 4)
	}
}

func TestFrequencyRateLimiterAdaptiveDecrease(t *testing.T) {
	l := NewFrequencyRateLimiter(100, time.Second, WithClock(clockwork.NewFakeClock()))

	for i := 0; i < 9; i++ {
		l.InformRateLimitHit()
	}
	require.Equal(t, 100, l.CurrentRateLimit())

	l.InformRateLimitHit()
	require.Equal(t, 90, l.CurrentRateLimit())
	require.False(t, l.State().AdjustmentEnabled)

	// Disabled: the eleventh signal changes nothing.
	l.InformRateLimitHit()
	require.Equal(t, 90, l.CurrentRateLimit())
	require.Equal(t, 0, l.State().Hits)

	l.InformSuccessfulCompletion()
	state := l.State()
	require.True(t, state.AdjustmentEnabled)
	require.Equal(t, 0, state.Hits)

	for i := 0; i < 10; i++ {
		l.InformRateLimitHit()
	}
	require.Equal(t, 81, l.CurrentRateLimit())
	require.Equal(t, 2, l.State().Decreases)
}

func TestFrequencyRateLimiterFloorsAtOne(t *testing.T) {
	l := NewFrequencyRateLimiter(2, time.Second, WithClock(clockwork.NewFakeClock()))
	for i := 0; i < 10; i++ {
		l.InformRateLimitHit()
	}
	require.Equal(t, 1, l.CurrentRateLimit())

	l.InformSuccessfulCompletion()
	for i := 0; i < 30; i++ {
		l.InformRateLimitHit()
	}
	require.Equal(t, 1, l.CurrentRateLimit())
	require.Equal(t, 0, l.State().Hits)
}

func TestFrequencyRateLimiterLimitOneIgnoresHits(t *testing.T) {
	l := NewFrequencyRateLimiter(1, time.Second, WithClock(clockwork.NewFakeClock()))
	for i := 0; i < 20; i++ {
		l.InformRateLimitHit()
	}
	state := l.State()
	require.Equal(t, 1, state.CurrentRateLimit)
	require.True(t, state.AdjustmentEnabled)
	require.Zero(t, state.Decreases)
}

func TestFrequencyRateLimiterCooldownAfterDecrease(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewFrequencyRateLimiter(10, time.Second, WithClock(clock))

	for i := 0; i < 10; i++ {
		l.InformRateLimitHit()
	}
	delay, ok := l.admit()
	require.False(t, ok)
	require.Equal(t, time.Second, delay)

	clock.Advance(time.Second)
	_, ok = l.admit()
	require.True(t, ok)
}

func TestFrequencyRateLimiterWaitDuringCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewFrequencyRateLimiter(10, time.Second, WithClock(clock))
	for i := 0; i < 10; i++ {
		l.InformRateLimitHit()
	}

	done := make(chan error, 1)
	go func() { done <- l.Wait(context.Background()) }()
	blockUntil(t, clock, 1)

	clock.Advance(time.Second)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after cooldown")
	}
}

func TestFrequencyRateLimiterReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewFrequencyRateLimiter(10, time.Second, WithClock(clock))
	for i := 0; i < 10; i++ {
		l.InformRateLimitHit()
	}
	require.Equal(t, 9, l.CurrentRateLimit())

	l.Reset()
	state := l.State()
	require.Equal(t, 10, state.CurrentRateLimit)
	require.True(t, state.AdjustmentEnabled)
	require.True(t, state.CooldownUntil.IsZero())
	require.Zero(t, state.InWindow)

	_, ok := l.admit()
	require.True(t, ok)
}

func TestFrequencyRateLimiterTokenBucketBackend(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewFrequencyRateLimiter(5, 5*time.Second, WithClock(clock), WithBackend(BackendTokenBucket))

	delay, ok := l.admit()
	require.False(t, ok)
	require.Equal(t, time.Second, delay)

	clock.Advance(time.Second)
	_, ok = l.admit()
	require.True(t, ok)
	delay, ok = l.admit()
	require.False(t, ok)
	require.Equal(t, time.Second, delay)

	// Idle time does not bank tokens for a burst.
	clock.Advance(10 * time.Second)
	_, ok = l.admit()
	require.True(t, ok)
	_, ok = l.admit()
	require.False(t, ok)
	require.Equal(t, 1, l.State().InWindow)
}

func TestFrequencyRateLimiterLongIntervalAdmissions(t *testing.T) {
	for _, backend := range []Backend{BackendWindow, BackendTokenBucket} {
		t.Run(string(backend), func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			l := NewFrequencyRateLimiter(5, time.Minute, WithClock(clock), WithBackend(backend))

			admitted := 0
			for elapsed := time.Duration(0); elapsed < time.Minute; elapsed += 100 * time.Millisecond {
				if _, ok := l.admit(); ok {
					admitted++
				}
				clock.Advance(100 * time.Millisecond)
			}
			require.LessOrEqual(t, admitted, 5)
			require.Positive(t, admitted)
		})
	}
}

func TestFrequencyRateLimiterSlidingWindowBound(t *testing.T) {
	for _, backend := range []Backend{BackendWindow, BackendTokenBucket} {
		t.Run(string(backend), func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			interval := 3 * time.Second
			l := NewFrequencyRateLimiter(4, interval, WithClock(clock), WithBackend(backend))

			var starts []time.Time
			for i := 0; i < 400; i++ {
				if _, ok := l.admit(); ok {
					starts = append(starts, clock.Now())
				}
				clock.Advance(50 * time.Millisecond)
			}
			require.NotEmpty(t, starts)

			for i, end := range starts {
				inWindow := 0
				for _, s := range starts[:i+1] {
					if s.After(end.Add(-interval)) {
						inWindow++
					}
				}
				require.LessOrEqual(t, inWindow, 4, "window ending at start %d", i)
			}
		})
	}
}

func TestFrequencyRateLimiterDeferFor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewFrequencyRateLimiter(10, time.Second, WithClock(clock))

	l.DeferFor(0)
	_, ok := l.admit()
	require.True(t, ok)

	l.DeferFor(5 * time.Second)
	delay, ok := l.admit()
	require.False(t, ok)
	require.Equal(t, 5*time.Second, delay)

	// A shorter back-off never shortens the current one.
	l.DeferFor(time.Second)
	delay, _ = l.admit()
	require.Equal(t, 5*time.Second, delay)
	require.True(t, l.State().AdjustmentEnabled)

	clock.Advance(5 * time.Second)
	_, ok = l.admit()
	require.True(t, ok)
}

func TestFrequencyRateLimiterWaitCanceled(t *testing.T) {
	l := NewFrequencyRateLimiter(1, time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
