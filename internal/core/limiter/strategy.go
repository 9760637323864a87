package limiter

import (
	"context"
	"fmt"
	"time"
)

// Strategy is the closed set of rate-limiting behaviours a request type can
// carry: none, fixed delay, debounce or frequency.
type Strategy struct {
	name      string
	kind      Kind
	timed     *TimedLimiter
	debounce  *SingleFutureLimiter
	frequency *FrequencyRateLimiter
}

var none = &Strategy{kind: KindNone}

// None returns the shared pass-through strategy.
func None() *Strategy {
	return none
}

// Timed wraps a fixed-delay limiter.
func Timed(l *TimedLimiter) *Strategy {
	return &Strategy{kind: KindFixedDelay, timed: l}
}

// Debounce wraps a single-future limiter.
func Debounce(l *SingleFutureLimiter) *Strategy {
	return &Strategy{kind: KindDebounce, debounce: l}
}

// Frequency wraps a frequency limiter.
func Frequency(l *FrequencyRateLimiter) *Strategy {
	return &Strategy{kind: KindFrequency, frequency: l}
}

// New builds the strategy described by cfg.
func New(cfg Config, opts ...Option) (*Strategy, error) {
	cfg, err := cfg.Normalized()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case "", KindNone:
		return None(), nil
	case KindFixedDelay:
		return Timed(NewTimedLimiter(cfg.Interval, opts...)), nil
	case KindDebounce:
		return Debounce(NewSingleFutureLimiter(cfg.WaitTime, opts...)), nil
	case KindFrequency:
		opts = append(opts, WithBackend(cfg.Backend))
		return Frequency(NewFrequencyRateLimiter(cfg.Requests, cfg.Interval, opts...)), nil
	default:
		return nil, fmt.Errorf("unknown rate limit type: %s", cfg.Kind)
	}
}

// Name returns the registry name, if any.
func (s *Strategy) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Kind reports the strategy variant.
func (s *Strategy) Kind() Kind {
	if s == nil {
		return KindNone
	}
	return s.kind
}

// Execute runs fn according to the strategy. None runs it immediately on a new goroutine.
func (s *Strategy) Execute(fn func()) {
	switch s.Kind() {
	case KindFixedDelay:
		s.timed.Execute(fn)
	case KindDebounce:
		s.debounce.Execute(fn)
	case KindFrequency:
		s.frequency.Execute(fn)
	default:
		go fn()
	}
}

// Wait blocks until the strategy admits the caller.
func (s *Strategy) Wait(ctx context.Context) error {
	switch s.Kind() {
	case KindFixedDelay:
		return s.timed.Wait(ctx)
	case KindDebounce:
		return s.debounce.Wait(ctx)
	case KindFrequency:
		return s.frequency.Wait(ctx)
	default:
		return ctx.Err()
	}
}

// Reset clears runtime state. Debounce resets cancel the pending call.
func (s *Strategy) Reset() {
	switch s.Kind() {
	case KindFixedDelay:
		s.timed.Reset()
	case KindDebounce:
		s.debounce.Cancel()
	case KindFrequency:
		s.frequency.Reset()
	}
}

// InformRateLimitHit forwards an upstream rate-limit signal. Only frequency
// limiters adapt.
func (s *Strategy) InformRateLimitHit() {
	if s.Kind() == KindFrequency {
		s.frequency.InformRateLimitHit()
	}
}

// DeferFor forwards an upstream back-off request such as Retry-After.
// Only frequency limiters hold admissions for it.
func (s *Strategy) DeferFor(d time.Duration) {
	if s.Kind() == KindFrequency {
		s.frequency.DeferFor(d)
	}
}

// InformSuccessfulCompletion forwards a success signal.
func (s *Strategy) InformSuccessfulCompletion() {
	if s.Kind() == KindFrequency {
		s.frequency.InformSuccessfulCompletion()
	}
}

// Snapshot describes a strategy for listing.
type Snapshot struct {
	Name              string        `json:"name"`
	Kind              Kind          `json:"type"`
	Interval          time.Duration `json:"interval,omitempty"`
	WaitTime          time.Duration `json:"wait_time,omitempty"`
	Backend           Backend       `json:"backend,omitempty"`
	Baseline          int           `json:"baseline,omitempty"`
	CurrentLimit      int           `json:"current_limit,omitempty"`
	AdjustmentEnabled bool          `json:"adjustment_enabled"`
	Hits              int           `json:"hits"`
	Decreases         int           `json:"decreases"`
	InWindow          int           `json:"in_window"`
	Pending           bool          `json:"pending"`
	CooldownUntil     *time.Time    `json:"cooldown_until,omitempty"`
	LastExecutedAt    *time.Time    `json:"last_executed_at,omitempty"`
}

// Snapshot returns the current state of the strategy.
func (s *Strategy) Snapshot() Snapshot {
	snap := Snapshot{Name: s.Name(), Kind: s.Kind()}
	switch snap.Kind {
	case KindFixedDelay:
		snap.Interval = s.timed.Limit()
		if last := s.timed.LastExecutedAt(); !last.IsZero() {
			snap.LastExecutedAt = &last
		}
	case KindDebounce:
		snap.WaitTime = s.debounce.WaitTime()
		snap.Pending = s.debounce.Pending()
	case KindFrequency:
		state := s.frequency.State()
		snap.Interval = state.Interval
		snap.Backend = state.Backend
		snap.Baseline = state.Baseline
		snap.CurrentLimit = state.CurrentRateLimit
		snap.AdjustmentEnabled = state.AdjustmentEnabled
		snap.Hits = state.Hits
		snap.Decreases = state.Decreases
		snap.InWindow = state.InWindow
		if !state.CooldownUntil.IsZero() {
			cooldown := state.CooldownUntil
			snap.CooldownUntil = &cooldown
		}
	}
	return snap
}
