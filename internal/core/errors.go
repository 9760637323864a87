package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies request failures.
type ErrorKind string

const (
	KindNoDataReceived    ErrorKind = "no_data_received"
	KindTransport         ErrorKind = "transport_error"
	KindTimeout           ErrorKind = "timeout"
	KindRateLimitExceeded ErrorKind = "rate_limit_exceeded"
	KindParsingFailure    ErrorKind = "parsing_failure"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindCanceled          ErrorKind = "canceled"
)

// Sentinel errors usable with errors.Is against a *RequestError.
var (
	ErrNoDataReceived    = errors.New("no data received")
	ErrTransport         = errors.New("transport error")
	ErrTimeout           = errors.New("request timed out")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrParsingFailure    = errors.New("response parsing failed")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrCanceled          = errors.New("request canceled")
)

// RequestError is the single terminal failure returned by the orchestrator.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int
	Attempts   int
	URL        string
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempt(s)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel for the error kind.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if e.Kind == KindTimeout && target == ErrTransport {
		return true
	}
	return kindSentinel(e.Kind) == target
}

// Retryable reports whether the kind can ever be retried by the orchestrator.
func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindParsingFailure, KindInvalidRequest, KindCanceled:
		return false
	default:
		return true
	}
}

// NewRequestError builds a RequestError of the given kind.
func NewRequestError(kind ErrorKind, statusCode int, err error) *RequestError {
	return &RequestError{Kind: kind, StatusCode: statusCode, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a *RequestError.
func KindOf(err error) ErrorKind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	return ""
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case KindNoDataReceived:
		return ErrNoDataReceived
	case KindTransport:
		return ErrTransport
	case KindTimeout:
		return ErrTimeout
	case KindRateLimitExceeded:
		return ErrRateLimitExceeded
	case KindParsingFailure:
		return ErrParsingFailure
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindCanceled:
		return ErrCanceled
	default:
		return nil
	}
}
