package engine

import (
	"github.com/benetwork/benetwork/internal/core"
)

type decision int

const (
	complete decision = iota
	retryRateLimited
	retryTimeout
	retryGeneric
)

func (d decision) String() string {
	switch d {
	case retryRateLimited:
		return "retry_rate_limited"
	case retryTimeout:
		return "retry_timeout"
	case retryGeneric:
		return "retry"
	default:
		return "complete"
	}
}

// classify decides the next step after an attempt. Rules are checked in
// order and the first match wins; retries counts attempts already retried.
func classify(policy core.RetryPolicy, retries int, result attemptResult) decision {
	if result.err == nil {
		return complete
	}

	switch result.err.Kind {
	case core.KindInvalidRequest, core.KindCanceled, core.KindParsingFailure:
		return complete
	}

	// An opted-in class owns its budget; once spent the request completes
	// instead of borrowing from the generic limit.
	if result.err.Kind == core.KindRateLimitExceeded && policy.OnRateLimit {
		if retries < core.MaxRateLimitRetries {
			return retryRateLimited
		}
		return complete
	}
	if result.err.Kind == core.KindTimeout && policy.OnTimeout {
		if retries < core.MaxTimeoutRetries {
			return retryTimeout
		}
		return complete
	}
	if retries < policy.Limit {
		return retryGeneric
	}
	return complete
}
