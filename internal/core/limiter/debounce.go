package limiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrSuperseded is returned by SingleFutureLimiter.Wait when a newer call replaced it.
	ErrSuperseded = errors.New("debounced call superseded")
	// ErrCanceled is returned by SingleFutureLimiter.Wait when Cancel aborted it.
	ErrCanceled = errors.New("debounced call canceled")
)

// SingleFutureLimiter debounces calls: only the latest call within waitTime runs.
type SingleFutureLimiter struct {
	waitTime time.Duration
	clock    clockwork.Clock

	mu      sync.Mutex
	pending *futureCall
}

type futureCall struct {
	timer  clockwork.Timer
	fn     func()
	onDrop func(error)
}

// NewSingleFutureLimiter builds a debounce limiter.
func NewSingleFutureLimiter(waitTime time.Duration, opts ...Option) *SingleFutureLimiter {
	s := applyOptions(opts)
	return &SingleFutureLimiter{waitTime: waitTime, clock: s.clock}
}

// WaitTime returns the debounce delay.
func (l *SingleFutureLimiter) WaitTime() time.Duration {
	return l.waitTime
}

// Execute schedules fn after the wait time, discarding any pending call.
func (l *SingleFutureLimiter) Execute(fn func()) {
	l.schedule(fn, nil)
}

// Wait schedules the caller and blocks until it fires, is superseded, is
// canceled or ctx ends.
func (l *SingleFutureLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fired := make(chan struct{})
	dropped := make(chan error, 1)
	call := l.schedule(func() { close(fired) }, func(err error) { dropped <- err })

	select {
	case <-fired:
		return nil
	case err := <-dropped:
		return err
	case <-ctx.Done():
		l.forget(call)
		return ctx.Err()
	}
}

// Cancel aborts the pending call, if any. Its closure never runs.
func (l *SingleFutureLimiter) Cancel() {
	l.mu.Lock()
	call := l.pending
	l.pending = nil
	if call != nil {
		call.timer.Stop()
	}
	l.mu.Unlock()

	if call != nil && call.onDrop != nil {
		call.onDrop(ErrCanceled)
	}
}

// Pending reports whether a call is scheduled.
func (l *SingleFutureLimiter) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending != nil
}

func (l *SingleFutureLimiter) schedule(fn func(), onDrop func(error)) *futureCall {
	call := &futureCall{fn: fn, onDrop: onDrop}

	l.mu.Lock()
	previous := l.pending
	if previous != nil {
		previous.timer.Stop()
	}
	l.pending = call
	call.timer = l.clock.AfterFunc(l.waitTime, func() { l.fire(call) })
	l.mu.Unlock()

	// A timer that already fired may still be blocked in fire; it will see it
	// is no longer pending and skip, so the previous call is always dropped here.
	if previous != nil && previous.onDrop != nil {
		previous.onDrop(ErrSuperseded)
	}
	return call
}

func (l *SingleFutureLimiter) fire(call *futureCall) {
	l.mu.Lock()
	if l.pending != call {
		l.mu.Unlock()
		return
	}
	l.pending = nil
	l.mu.Unlock()

	call.fn()
}

func (l *SingleFutureLimiter) forget(call *futureCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == call {
		call.timer.Stop()
		l.pending = nil
	}
}
