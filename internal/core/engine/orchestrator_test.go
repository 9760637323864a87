package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/transport"
)

type step struct {
	status int
	body   string
	header http.Header
	err    error
}

type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	calls int
	urls  []string
}

func (s *scriptedTransport) RoundTrip(ctx context.Context, req *http.Request) ([]byte, *http.Response, error) {
	s.mu.Lock()
	current := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	s.urls = append(s.urls, req.URL.String())
	s.mu.Unlock()

	if current.err != nil {
		return nil, nil, current.err
	}
	header := current.header
	if header == nil {
		header = http.Header{}
	}
	return []byte(current.body), &http.Response{StatusCode: current.status, Header: header}, nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newRequest(strategy *limiter.Strategy) *core.Request {
	return &core.Request{
		Name:      "test",
		BaseURL:   "https://api.example.com",
		Path:      "/v1/items",
		Method:    core.MethodGet,
		RateLimit: strategy,
	}
}

func TestDoCompletesOnSuccess(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK, body: `{"ok":true}`}}}
	o := &Orchestrator{Transport: tr}

	resp, err := o.Do(context.Background(), newRequest(nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"ok":true}`, string(resp.Body))
	require.Equal(t, 1, resp.Attempts)
	require.False(t, resp.FromCache)
	require.Equal(t, "GET https://api.example.com/v1/items", resp.CacheKey)
}

func TestDoRetriesRateLimitedUntilAttemptEleven(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusTooManyRequests}}}
	strategy := limiter.Frequency(limiter.NewFrequencyRateLimiter(1000, 10*time.Millisecond))
	req := newRequest(strategy)
	req.Retry = core.RetryPolicy{OnRateLimit: true}

	o := &Orchestrator{Transport: tr}
	_, err := o.Do(context.Background(), req)
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrRateLimitExceeded)

	var reqErr *core.RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, core.KindRateLimitExceeded, reqErr.Kind)
	require.Equal(t, http.StatusTooManyRequests, reqErr.StatusCode)
	require.Equal(t, 11, reqErr.Attempts)
	require.Equal(t, 11, tr.Calls())

	// Ten hits produce exactly one adaptive decrease.
	snap := strategy.Snapshot()
	require.Equal(t, 900, snap.CurrentLimit)
	require.False(t, snap.AdjustmentEnabled)
	require.Equal(t, int64(10), o.Stats().RateLimitRetries)
}

func TestDoRateLimitedWithoutOptInUsesGenericLimit(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusTooManyRequests}}}
	strategy := limiter.Frequency(limiter.NewFrequencyRateLimiter(100, time.Second))
	req := newRequest(strategy)
	req.Retry = core.RetryPolicy{Limit: 2}

	o := &Orchestrator{Transport: tr}
	_, err := o.Do(context.Background(), req)
	require.ErrorIs(t, err, core.ErrRateLimitExceeded)
	require.Equal(t, 3, tr.Calls())

	// Generic retries never signal the limiter.
	require.Zero(t, strategy.Snapshot().Hits)
	require.Equal(t, int64(2), o.Stats().GenericRetries)
}

func TestDoRateLimitCapIgnoresLargerGenericLimit(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusTooManyRequests}}}
	req := newRequest(nil)
	req.Retry = core.RetryPolicy{Limit: 15, OnRateLimit: true}

	o := &Orchestrator{Transport: tr}
	_, err := o.Do(context.Background(), req)
	require.ErrorIs(t, err, core.ErrRateLimitExceeded)
	require.Equal(t, 11, tr.Calls())

	var reqErr *core.RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, 11, reqErr.Attempts)
	require.Zero(t, o.Stats().GenericRetries)
}

func TestDoTimeoutCapIgnoresLargerGenericLimit(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: context.DeadlineExceeded}}}
	req := newRequest(nil)
	req.Retry = core.RetryPolicy{Limit: 8, OnTimeout: true}

	o := &Orchestrator{Transport: tr}
	_, err := o.Do(context.Background(), req)
	require.ErrorIs(t, err, core.ErrTimeout)
	require.Equal(t, 4, tr.Calls())
}

func TestDoOversizedBodyIsNotRetriedOrCached(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: fmt.Errorf("%w: more than 10 bytes", transport.ErrBodyTooLarge)}}}
	cache := NewMemoryCache(nil, 0)
	req := newRequest(nil)
	req.Retry = core.RetryPolicy{Limit: 3}
	req.CacheTTL = time.Minute

	o := &Orchestrator{Transport: tr, Cache: cache}
	_, err := o.Do(context.Background(), req)
	require.ErrorIs(t, err, transport.ErrBodyTooLarge)
	require.Equal(t, core.KindParsingFailure, core.KindOf(err))
	require.Equal(t, 1, tr.Calls())
	require.Zero(t, cache.Len())
}

func TestDoRetryAfterHoldsFrequencyLimiter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &scriptedTransport{steps: []step{{
		status: http.StatusTooManyRequests,
		header: http.Header{"Retry-After": {"30"}},
	}}}
	strategy := limiter.Frequency(limiter.NewFrequencyRateLimiter(100, time.Second, limiter.WithClock(clock)))
	req := newRequest(strategy)

	o := &Orchestrator{Transport: tr, Clock: clock}
	_, err := o.Do(context.Background(), req)
	require.ErrorIs(t, err, core.ErrRateLimitExceeded)

	snap := strategy.Snapshot()
	require.NotNil(t, snap.CooldownUntil)
	require.Equal(t, clock.Now().Add(30*time.Second), *snap.CooldownUntil)
	require.Equal(t, 100, snap.CurrentLimit)
}

func TestDoRetryAfterIsBounded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &scriptedTransport{steps: []step{{
		status: http.StatusTooManyRequests,
		header: http.Header{"Retry-After": {"86400"}},
	}}}
	strategy := limiter.Frequency(limiter.NewFrequencyRateLimiter(100, time.Second, limiter.WithClock(clock)))

	o := &Orchestrator{Transport: tr, Clock: clock}
	_, err := o.Do(context.Background(), newRequest(strategy))
	require.Error(t, err)
	require.Equal(t, clock.Now().Add(maxRetryAfter), *strategy.Snapshot().CooldownUntil)
}

func TestDoRetriesTimeouts(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: context.DeadlineExceeded}}}
	req := newRequest(nil)
	req.Retry = core.RetryPolicy{OnTimeout: true}

	o := &Orchestrator{Transport: tr}
	_, err := o.Do(context.Background(), req)
	require.ErrorIs(t, err, core.ErrTimeout)
	require.ErrorIs(t, err, core.ErrTransport)
	require.Equal(t, core.KindTimeout, core.KindOf(err))
	require.Equal(t, 4, tr.Calls())
}

func TestDoTimeoutRetriesSignalLimiter(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: context.DeadlineExceeded}, {status: http.StatusOK, body: "ok"}}}
	strategy := limiter.Frequency(limiter.NewFrequencyRateLimiter(50, time.Second))
	req := newRequest(strategy)
	req.Retry = core.RetryPolicy{OnTimeout: true}

	o := &Orchestrator{Transport: tr}
	resp, err := o.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Attempts)
	require.Equal(t, 1, strategy.Snapshot().Hits)
	require.Equal(t, int64(1), o.Stats().TimeoutRetries)
}

func TestDoRetriesTransportErrorsUpToLimit(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: errors.New("connection reset")}}}
	req := newRequest(nil)
	req.Retry = core.RetryPolicy{Limit: 2, OnTimeout: true, OnRateLimit: true}

	o := &Orchestrator{Transport: tr}
	_, err := o.Do(context.Background(), req)
	require.ErrorIs(t, err, core.ErrTransport)
	require.NotErrorIs(t, err, core.ErrTimeout)
	require.Equal(t, 3, tr.Calls())
	require.Contains(t, err.Error(), "connection reset")
	require.Equal(t, int64(1), o.Stats().Failed)
}

func TestDoNoRetryByDefault(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: errors.New("boom")}}}
	o := &Orchestrator{Transport: tr}

	_, err := o.Do(context.Background(), newRequest(nil))
	require.Error(t, err)
	require.Equal(t, 1, tr.Calls())
}

func TestDoRecoversAfterRateLimit(t *testing.T) {
	tr := &scriptedTransport{steps: []step{
		{status: http.StatusTooManyRequests},
		{status: http.StatusTooManyRequests},
		{status: http.StatusOK, body: "done"},
	}}
	strategy := limiter.Frequency(limiter.NewFrequencyRateLimiter(100, time.Second))
	req := newRequest(strategy)
	req.Retry = core.RetryPolicy{OnRateLimit: true}

	o := &Orchestrator{Transport: tr}
	resp, err := o.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "done", string(resp.Body))
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, 2, strategy.Snapshot().Hits)

	stats := o.Stats()
	require.Equal(t, int64(1), stats.Requests)
	require.Equal(t, int64(3), stats.Attempts)
	require.Equal(t, int64(2), stats.Retries())
	require.Equal(t, int64(1), stats.Completed)
}

func TestDoNonSuccessStatusCompletesWithoutRetry(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusNotFound, body: "missing"}}}
	cache := NewMemoryCache(nil, 0)
	req := newRequest(nil)
	req.Retry = core.RetryPolicy{Limit: 3}
	req.CacheTTL = time.Minute

	o := &Orchestrator{Transport: tr, Cache: cache}
	resp, err := o.Do(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.IsNotFound())
	require.Equal(t, 1, tr.Calls())
	require.Zero(t, cache.Len())
}

func TestDoEveryRetryReentersGate(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{err: errors.New("flaky")}, {err: errors.New("flaky")}, {status: http.StatusOK}}}
	strategy := limiter.Timed(limiter.NewTimedLimiter(25 * time.Millisecond))
	req := newRequest(strategy)
	req.Retry = core.RetryPolicy{Limit: 5}

	o := &Orchestrator{Transport: tr}
	started := time.Now()
	resp, err := o.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.GreaterOrEqual(t, time.Since(started), 45*time.Millisecond)
}

func TestDoWritesAndReadsCache(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK, body: "fresh"}}}
	cache := NewMemoryCache(nil, 0)
	o := &Orchestrator{Transport: tr, Cache: cache}

	first := newRequest(nil)
	first.Query = url.Values{"b": {"2"}, "a": {"1"}}
	first.CacheTTL = time.Minute

	resp, err := o.Do(context.Background(), first)
	require.NoError(t, err)
	require.False(t, resp.FromCache)
	require.Equal(t, 1, cache.Len())

	second := newRequest(nil)
	second.Query = url.Values{"a": {"1"}, "b": {"2"}}
	second.CacheTTL = time.Minute

	cached, err := o.Do(context.Background(), second)
	require.NoError(t, err)
	require.True(t, cached.FromCache)
	require.Equal(t, "fresh", string(cached.Body))
	require.Equal(t, 1, tr.Calls())

	stats := o.Stats()
	require.Equal(t, int64(1), stats.CacheHits)
	require.Equal(t, int64(1), stats.CacheMisses)
	require.Equal(t, int64(1), stats.CacheWrites)
}

func TestDoSkipsCacheWithoutTTL(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK, body: "x"}}}
	cache := NewMemoryCache(nil, 0)
	o := &Orchestrator{Transport: tr, Cache: cache}

	_, err := o.Do(context.Background(), newRequest(nil))
	require.NoError(t, err)
	_, err = o.Do(context.Background(), newRequest(nil))
	require.NoError(t, err)
	require.Equal(t, 2, tr.Calls())
	require.Zero(t, cache.Len())
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache offline")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache offline")
}

func TestDoTreatsCacheErrorsAsMiss(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK, body: "x"}}}
	req := newRequest(nil)
	req.CacheTTL = time.Minute

	o := &Orchestrator{Transport: tr, Cache: failingCache{}}
	resp, err := o.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "x", string(resp.Body))
	require.Zero(t, o.Stats().CacheWrites)
}

func TestDoAppliesMiddlewaresInOrder(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK, body: "body"}}}
	req := newRequest(nil)
	req.Middlewares = []core.Middleware{
		func(resp *core.Response) *core.Response {
			resp.Body = bytes.ToUpper(resp.Body)
			return resp
		},
		nil,
		func(resp *core.Response) *core.Response {
			clone := *resp
			clone.Body = append(clone.Body, '!')
			return &clone
		},
	}

	o := &Orchestrator{Transport: tr}
	resp, err := o.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "BODY!", string(resp.Body))
}

func TestDoRejectsInvalidRequest(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK}}}
	o := &Orchestrator{Transport: tr}

	_, err := o.Do(context.Background(), &core.Request{Path: "/x"})
	require.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = o.Do(context.Background(), nil)
	require.ErrorIs(t, err, core.ErrInvalidRequest)
	require.Zero(t, tr.Calls())
}

func TestDoHonoursCanceledContext(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK}}}
	o := &Orchestrator{Transport: tr}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Do(ctx, newRequest(nil))
	require.ErrorIs(t, err, core.ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, tr.Calls())
}

func TestDoSupersededDebounceFails(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: http.StatusOK, body: "ok"}}}
	strategy := limiter.Debounce(limiter.NewSingleFutureLimiter(50 * time.Millisecond))
	o := &Orchestrator{Transport: tr}

	first := make(chan error, 1)
	go func() {
		_, err := o.Do(context.Background(), newRequest(strategy))
		first <- err
	}()
	require.Eventually(t, func() bool { return strategy.Snapshot().Pending }, time.Second, time.Millisecond)

	resp, err := o.Do(context.Background(), newRequest(strategy))
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))

	err = <-first
	require.ErrorIs(t, err, limiter.ErrSuperseded)
	require.Equal(t, 1, tr.Calls())
}

type blockingTransport struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
}

func (b *blockingTransport) RoundTrip(ctx context.Context, req *http.Request) ([]byte, *http.Response, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.once.Do(func() { close(b.started) })
	<-b.release
	return []byte("shared"), &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
}

func TestDoDeduplicatesConcurrentRequests(t *testing.T) {
	tr := &blockingTransport{started: make(chan struct{}), release: make(chan struct{})}
	o := &Orchestrator{Transport: tr, Dedupe: true}

	req := newRequest(nil)
	req.CacheTTL = time.Minute

	var wg sync.WaitGroup
	results := make([]*core.Response, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = o.Do(context.Background(), req)
	}()
	<-tr.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = o.Do(context.Background(), req)
	}()
	time.Sleep(30 * time.Millisecond)
	close(tr.release)
	wg.Wait()

	require.Equal(t, 1, tr.calls)
	require.Equal(t, "shared", string(results[0].Body))
	require.Equal(t, "shared", string(results[1].Body))
	require.Equal(t, int64(2), o.Stats().Deduplicated)
}

func TestDoDedupedFollowerSurvivesLeaderCancel(t *testing.T) {
	tr := &blockingTransport{started: make(chan struct{}), release: make(chan struct{})}
	o := &Orchestrator{Transport: tr, Dedupe: true}

	req := newRequest(nil)
	req.CacheTTL = time.Minute

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := o.Do(leaderCtx, req)
		leaderErr <- err
	}()
	<-tr.started

	type outcome struct {
		resp *core.Response
		err  error
	}
	follower := make(chan outcome, 1)
	go func() {
		resp, err := o.Do(context.Background(), req)
		follower <- outcome{resp, err}
	}()
	time.Sleep(30 * time.Millisecond)

	cancelLeader()
	err := <-leaderErr
	require.ErrorIs(t, err, core.ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)

	close(tr.release)
	got := <-follower
	require.NoError(t, got.err)
	require.Equal(t, "shared", string(got.resp.Body))
	require.Equal(t, 1, tr.calls)
}
