package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/transport"
	"github.com/benetwork/benetwork/internal/metrics"
)

// Transport dispatches one HTTP request and returns the buffered body.
type Transport interface {
	RoundTrip(ctx context.Context, req *http.Request) ([]byte, *http.Response, error)
}

// Streamer dispatches one HTTP request and returns the body in chunks.
type Streamer interface {
	Stream(ctx context.Context, req *http.Request) (*transport.Download, error)
}

// Cache stores successful response bodies by normalized request key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Orchestrator runs requests through cache lookup, rate limiting, dispatch and retry.
type Orchestrator struct {
	Transport Transport
	Cache     Cache
	Logger    *logging.Logger
	// Trace logs every attempt and classification at debug level.
	Trace bool
	// Dedupe collapses concurrent identical cacheable GET requests into one dispatch.
	Dedupe bool
	Clock  clockwork.Clock

	group singleflight.Group
	stats counters
}

// Do executes req and returns its single terminal outcome.
func (o *Orchestrator) Do(ctx context.Context, req *core.Request) (*core.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, &core.RequestError{Kind: core.KindInvalidRequest, Err: errors.New("request is nil")}
	}

	key, err := core.CacheKey(req)
	if err != nil {
		return nil, &core.RequestError{Kind: core.KindInvalidRequest, Err: err}
	}
	o.stats.requests.Inc()

	if resp, ok := o.lookup(ctx, req, key); ok {
		return applyMiddlewares(req, resp), nil
	}

	if !o.Dedupe || req.CacheTTL <= 0 || (req.Method != "" && req.Method != core.MethodGet) {
		return o.execute(ctx, req, key)
	}

	// The shared dispatch outlives any one caller; each caller still stops
	// waiting when its own context ends.
	detached := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key, func() (any, error) {
		return o.execute(detached, req, key)
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		return nil, o.fail(req, o.now(), &core.RequestError{Kind: core.KindCanceled, URL: key, Err: ctx.Err()})
	case result = <-ch:
	}
	if result.Shared {
		o.stats.deduplicated.Inc()
	}
	if result.Err != nil {
		return nil, result.Err
	}
	resp := result.Val.(*core.Response)
	if result.Shared {
		clone := *resp
		clone.Request = req
		resp = &clone
	}
	return resp, nil
}

func (o *Orchestrator) lookup(ctx context.Context, req *core.Request, key string) (*core.Response, bool) {
	if o.Cache == nil || req.CacheTTL <= 0 {
		return nil, false
	}

	body, ok, err := o.Cache.Get(ctx, key)
	if err != nil {
		o.warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	metrics.RecordCacheLookup(requestLabel(req), ok)
	if !ok {
		o.stats.cacheMisses.Inc()
		return nil, false
	}

	o.stats.cacheHits.Inc()
	o.trace("cache hit", zap.String("key", key))
	return &core.Response{
		Request:    req,
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       body,
		FromCache:  true,
		CacheKey:   key,
	}, true
}

// execute is the retry loop: gate, dispatch, classify, repeat or complete.
func (o *Orchestrator) execute(ctx context.Context, req *core.Request, key string) (*core.Response, error) {
	gate := req.Limiter()
	label := requestLabel(req)
	started := o.now()

	for attempt := 1; ; attempt++ {
		retries := attempt - 1

		if err := gate.Wait(ctx); err != nil {
			return nil, o.fail(req, started, &core.RequestError{Kind: core.KindCanceled, Attempts: retries, URL: key, Err: err})
		}

		current := core.Attempt{ID: uuid.NewString(), Request: req, Number: attempt, StartedAt: o.now()}
		o.stats.attempts.Inc()
		o.trace("dispatching request",
			zap.String("attempt_id", current.ID),
			zap.Int("attempt", attempt),
			zap.String("key", key),
			zap.String("limiter", string(gate.Kind())))

		result := o.dispatch(ctx, req)
		if result.err != nil && ctx.Err() != nil {
			return nil, o.fail(req, started, &core.RequestError{Kind: core.KindCanceled, Attempts: attempt, URL: key, Err: ctx.Err()})
		}

		decision := classify(req.Retry, retries, result)
		o.honourRetryAfter(gate, result)
		o.trace("classified attempt",
			zap.String("attempt_id", current.ID),
			zap.Int("status", result.statusCode()),
			zap.String("decision", decision.String()))

		switch decision {
		case retryRateLimited:
			gate.InformRateLimitHit()
			o.stats.rateLimitRetries.Inc()
			metrics.RecordRetry(label, "rate_limited")
			continue
		case retryTimeout:
			gate.InformRateLimitHit()
			o.stats.timeoutRetries.Inc()
			metrics.RecordRetry(label, "timeout")
			continue
		case retryGeneric:
			o.stats.genericRetries.Inc()
			metrics.RecordRetry(label, "error")
			continue
		}

		if result.err != nil {
			result.err.Attempts = attempt
			result.err.URL = key
			return nil, o.fail(req, started, result.err)
		}
		gate.InformSuccessfulCompletion()

		resp := &core.Response{
			Request:    req,
			StatusCode: result.resp.StatusCode,
			Header:     result.resp.Header,
			Body:       result.body,
			Attempts:   attempt,
			CacheKey:   key,
			Duration:   o.now().Sub(started),
		}
		if resp.IsSuccess() && req.CacheTTL > 0 && o.Cache != nil {
			o.store(ctx, req, key, resp.Body)
		}

		o.stats.completed.Inc()
		metrics.RecordRequest(label, metrics.OutcomeCompleted, resp.StatusCode, resp.Duration)
		return applyMiddlewares(req, resp), nil
	}
}

// attemptResult is the raw outcome of one dispatch.
type attemptResult struct {
	body []byte
	resp *http.Response
	err  *core.RequestError
}

func (r attemptResult) statusCode() int {
	if r.resp == nil {
		return 0
	}
	return r.resp.StatusCode
}

func (o *Orchestrator) dispatch(ctx context.Context, req *core.Request) attemptResult {
	if o.Transport == nil {
		return attemptResult{err: &core.RequestError{Kind: core.KindInvalidRequest, Err: errors.New("transport is not configured")}}
	}

	httpReq, err := req.HTTPRequest()
	if err != nil {
		return attemptResult{err: &core.RequestError{Kind: core.KindInvalidRequest, Err: err}}
	}

	attemptCtx, cancel := attemptContext(ctx, req)
	defer cancel()

	body, resp, err := o.Transport.RoundTrip(attemptCtx, httpReq)
	switch {
	case errors.Is(err, transport.ErrBodyTooLarge):
		// Retrying would fetch the same oversized body again.
		return attemptResult{resp: resp, err: &core.RequestError{Kind: core.KindParsingFailure, StatusCode: statusOf(resp), Err: err}}
	case err != nil && transport.IsTimeout(err):
		return attemptResult{resp: resp, err: &core.RequestError{Kind: core.KindTimeout, Err: err}}
	case err != nil:
		return attemptResult{resp: resp, err: &core.RequestError{Kind: core.KindTransport, StatusCode: statusOf(resp), Err: err}}
	case resp == nil:
		return attemptResult{err: &core.RequestError{Kind: core.KindNoDataReceived, Err: core.ErrNoDataReceived}}
	case resp.StatusCode == http.StatusTooManyRequests:
		return attemptResult{
			body: body,
			resp: resp,
			err:  &core.RequestError{Kind: core.KindRateLimitExceeded, StatusCode: resp.StatusCode, Err: fmt.Errorf("upstream returned %d", resp.StatusCode)},
		}
	default:
		return attemptResult{body: body, resp: resp}
	}
}

// attemptContext bounds one attempt by req.Timeout when set.
func attemptContext(ctx context.Context, req *core.Request) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	return context.WithCancel(ctx)
}

// maxRetryAfter bounds how long one upstream Retry-After can hold a limiter.
const maxRetryAfter = 10 * time.Minute

// honourRetryAfter pauses gate for the back-off a 429 asked for.
func (o *Orchestrator) honourRetryAfter(gate *limiter.Strategy, result attemptResult) {
	if result.err == nil || result.err.Kind != core.KindRateLimitExceeded || result.resp == nil {
		return
	}
	wait := transport.RetryAfter(result.resp.Header, o.now())
	if wait <= 0 {
		return
	}
	wait = min(wait, maxRetryAfter)
	gate.DeferFor(wait)
	o.trace("upstream requested back-off", zap.Duration("retry_after", wait), zap.String("limiter", string(gate.Kind())))
}

func (o *Orchestrator) store(ctx context.Context, req *core.Request, key string, body []byte) {
	err := o.Cache.Set(ctx, key, body, req.CacheTTL)
	metrics.RecordCacheWrite(requestLabel(req), err == nil)
	if err != nil {
		o.warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	o.stats.cacheWrites.Inc()
}

func (o *Orchestrator) fail(req *core.Request, started time.Time, err *core.RequestError) error {
	o.stats.failed.Inc()
	metrics.RecordRequest(requestLabel(req), string(err.Kind), err.StatusCode, o.now().Sub(started))
	o.trace("request failed",
		zap.String("kind", string(err.Kind)),
		zap.Int("attempts", err.Attempts),
		zap.Error(err))
	return err
}

func applyMiddlewares(req *core.Request, resp *core.Response) *core.Response {
	for _, middleware := range req.Middlewares {
		if middleware == nil {
			continue
		}
		if next := middleware(resp); next != nil {
			resp = next
		}
	}
	return resp
}

func requestLabel(req *core.Request) string {
	if req.Name != "" {
		return req.Name
	}
	if target, err := req.URL(); err == nil {
		return target.Host
	}
	return "unknown"
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock.Now()
	}
	return time.Now()
}

func (o *Orchestrator) trace(msg string, fields ...zap.Field) {
	if o.Trace && o.Logger != nil {
		o.Logger.Debug(msg, fields...)
	}
}

func (o *Orchestrator) warn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}
