package limiter

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultPollInterval bounds how long a blocked token consumer sleeps before re-checking.
const DefaultPollInterval = 20 * time.Millisecond

type settings struct {
	clock         clockwork.Clock
	pollInterval  time.Duration
	initialTokens int
	backend       Backend
}

// Option customizes limiter construction.
type Option func(*settings)

// WithClock injects the clock used for timestamps and sleeps.
func WithClock(clock clockwork.Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPollInterval overrides the token bucket polling granularity.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithInitialTokens seeds a token bucket; the value is capped at capacity.
func WithInitialTokens(tokens int) Option {
	return func(s *settings) {
		if tokens > 0 {
			s.initialTokens = tokens
		}
	}
}

// WithBackend selects the frequency limiter backend.
func WithBackend(backend Backend) Option {
	return func(s *settings) {
		if backend != "" {
			s.backend = backend
		}
	}
}

func applyOptions(opts []Option) settings {
	s := settings{
		clock:        clockwork.NewRealClock(),
		pollInterval: DefaultPollInterval,
		backend:      BackendWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
