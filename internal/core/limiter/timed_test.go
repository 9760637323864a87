package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestTimedLimiterReserveChainsCallers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewTimedLimiter(100*time.Millisecond, WithClock(clock))

	require.Equal(t, time.Duration(0), l.reserve())
	require.Equal(t, 100*time.Millisecond, l.reserve())
	require.Equal(t, 200*time.Millisecond, l.reserve())

	// The chain already reaches t+200ms, so the next slot is t+300ms.
	clock.Advance(250 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, l.reserve())

	clock.Advance(time.Second)
	require.Equal(t, time.Duration(0), l.reserve())
}

func TestTimedLimiterReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewTimedLimiter(time.Second, WithClock(clock))

	require.Equal(t, time.Duration(0), l.reserve())
	require.Equal(t, time.Second, l.reserve())

	l.Reset()
	require.True(t, l.LastExecutedAt().IsZero())
	require.Equal(t, time.Duration(0), l.reserve())
}

func TestTimedLimiterWaitBlocksForLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewTimedLimiter(100*time.Millisecond, WithClock(clock))

	require.NoError(t, l.Wait(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- l.Wait(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(99 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("wait returned before the limit elapsed")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after the limit elapsed")
	}
}

func TestTimedLimiterWaitCanceled(t *testing.T) {
	l := NewTimedLimiter(time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestTimedLimiterExecuteSpacesStarts(t *testing.T) {
	const limit = 30 * time.Millisecond
	l := NewTimedLimiter(limit)

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		l.Execute(func() {
			defer wg.Done()
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		require.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), limit-5*time.Millisecond)
	}
}
