package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/transport"
	"github.com/benetwork/benetwork/internal/metrics"
)

// Stream gates and dispatches req, returning the body as chunks. Retries
// follow the same rules as Do but only happen before the body starts; the
// response is never cached.
func (o *Orchestrator) Stream(ctx context.Context, req *core.Request) (*transport.Download, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return nil, &core.RequestError{Kind: core.KindInvalidRequest, Err: errors.New("request is nil")}
	}
	streamer, ok := o.Transport.(Streamer)
	if !ok {
		return nil, &core.RequestError{Kind: core.KindInvalidRequest, Err: errors.New("transport does not support streaming")}
	}

	gate := req.Limiter()
	label := requestLabel(req)
	started := o.now()
	o.stats.requests.Inc()

	for attempt := 1; ; attempt++ {
		retries := attempt - 1
		if err := gate.Wait(ctx); err != nil {
			return nil, o.fail(req, started, &core.RequestError{Kind: core.KindCanceled, Attempts: retries, Err: err})
		}

		httpReq, err := req.HTTPRequest()
		if err != nil {
			return nil, o.fail(req, started, &core.RequestError{Kind: core.KindInvalidRequest, Attempts: attempt, Err: err})
		}

		o.stats.attempts.Inc()
		o.trace("starting stream", zap.String("attempt_id", uuid.NewString()), zap.Int("attempt", attempt))

		attemptCtx, cancel := attemptContext(ctx, req)
		download, err := streamer.Stream(attemptCtx, httpReq)
		result := attemptResult{}
		switch {
		case err != nil && ctx.Err() != nil:
			cancel()
			return nil, o.fail(req, started, &core.RequestError{Kind: core.KindCanceled, Attempts: attempt, Err: ctx.Err()})
		case err != nil && transport.IsTimeout(err):
			result.err = &core.RequestError{Kind: core.KindTimeout, Err: err}
		case err != nil:
			result.err = &core.RequestError{Kind: core.KindTransport, Err: err}
		case download == nil || download.Response == nil:
			result.err = &core.RequestError{Kind: core.KindNoDataReceived, Err: core.ErrNoDataReceived}
		case download.Response.StatusCode == http.StatusTooManyRequests:
			result.resp = download.Response
			result.err = &core.RequestError{
				Kind:       core.KindRateLimitExceeded,
				StatusCode: http.StatusTooManyRequests,
				Err:        fmt.Errorf("upstream returned %d", http.StatusTooManyRequests),
			}
			go drain(download.Chunks)
		}

		if result.err != nil {
			cancel()
		}

		o.honourRetryAfter(gate, result)
		switch classify(req.Retry, retries, result) {
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
			return nil, o.fail(req, started, result.err)
		}

		gate.InformSuccessfulCompletion()
		o.stats.completed.Inc()
		metrics.RecordRequest(label, metrics.OutcomeCompleted, download.Response.StatusCode, o.now().Sub(started))
		return relay(ctx, attemptCtx, download, cancel), nil
	}
}

// relay forwards chunks from download and releases the attempt context once
// the body ends. A body cut short by the attempt timeout ends with an error
// chunk.
func relay(parent, attemptCtx context.Context, download *transport.Download, cancel context.CancelFunc) *transport.Download {
	out := make(chan transport.Chunk)
	go func() {
		defer cancel()
		defer close(out)

		for chunk := range download.Chunks {
			if !deliver(parent, out, chunk) || chunk.Err != nil {
				return
			}
		}
		if err := attemptCtx.Err(); err != nil && parent.Err() == nil {
			deliver(parent, out, transport.Chunk{Err: err})
		}
	}()

	relayed := *download
	relayed.Chunks = out
	return &relayed
}

func deliver(ctx context.Context, out chan<- transport.Chunk, chunk transport.Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func drain(chunks <-chan transport.Chunk) {
	for range chunks {
	}
}
