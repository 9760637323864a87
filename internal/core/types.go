package core

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benetwork/benetwork/internal/core/limiter"
)

// Method identifies the HTTP verb of a request descriptor.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPut    Method = http.MethodPut
	MethodPost   Method = http.MethodPost
	MethodDelete Method = http.MethodDelete
)

// ParseMethod normalizes a method name, defaulting to GET.
func ParseMethod(value string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", http.MethodGet:
		return MethodGet, nil
	case http.MethodPut:
		return MethodPut, nil
	case http.MethodPost:
		return MethodPost, nil
	case http.MethodDelete:
		return MethodDelete, nil
	default:
		return "", fmt.Errorf("unsupported method: %s", value)
	}
}

// Body is the payload attached to a request: none, raw bytes, or a key-value form.
type Body struct {
	Raw         []byte
	Form        map[string]string
	ContentType string
}

// IsEmpty reports whether the body carries no payload.
func (b Body) IsEmpty() bool {
	return len(b.Raw) == 0 && len(b.Form) == 0
}

// Bytes renders the body payload. Form bodies are url-encoded with sorted keys.
func (b Body) Bytes() []byte {
	if len(b.Raw) > 0 {
		return b.Raw
	}
	if len(b.Form) == 0 {
		return nil
	}
	values := url.Values{}
	for key, value := range b.Form {
		values.Set(key, value)
	}
	return []byte(values.Encode())
}

func (b Body) contentType() string {
	if b.ContentType != "" {
		return b.ContentType
	}
	if len(b.Raw) == 0 && len(b.Form) > 0 {
		return "application/x-www-form-urlencoded"
	}
	return ""
}

// RetryPolicy configures which failure classes are retried.
type RetryPolicy struct {
	// Limit bounds retries for generic failures.
	Limit int
	// OnRateLimit retries HTTP 429 responses (up to MaxRateLimitRetries).
	OnRateLimit bool
	// OnTimeout retries transport timeouts (up to MaxTimeoutRetries).
	OnTimeout bool
}

const (
	MaxRateLimitRetries = 10
	MaxTimeoutRetries   = 3
)

// Middleware transforms a completed response before it reaches the caller.
type Middleware func(*Response) *Response

// Request is the declarative descriptor for an outbound call.
type Request struct {
	Name       string
	BaseURL    string
	Path       string
	Method     Method
	Headers    map[string]string
	Query      url.Values
	ListParams []string
	Body       Body

	RateLimit   *limiter.Strategy
	Retry       RetryPolicy
	CacheTTL    time.Duration
	Timeout     time.Duration
	Middlewares []Middleware
}

// URL joins base, path and query parameters.
func (r *Request) URL() (*url.URL, error) {
	if r == nil {
		return nil, fmt.Errorf("request is nil")
	}
	raw := strings.TrimSpace(r.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if r.Path != "" {
		raw = strings.TrimRight(raw, "/") + "/" + strings.TrimLeft(r.Path, "/")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid request url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid request url: %s", raw)
	}

	if len(r.Query) > 0 {
		query := parsed.Query()
		for key, values := range r.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed, nil
}

// HTTPRequest builds a fresh *http.Request for a single dispatch.
func (r *Request) HTTPRequest() (*http.Request, error) {
	target, err := r.URL()
	if err != nil {
		return nil, err
	}

	method := r.Method
	if method == "" {
		method = MethodGet
	}

	var body io.Reader
	payload := r.Body.Bytes()
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(string(method), target.String(), body)
	if err != nil {
		return nil, err
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	if ct := r.Body.contentType(); ct != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", ct)
	}
	return req, nil
}

// Limiter returns the strategy gating this request, or the no-op strategy.
func (r *Request) Limiter() *limiter.Strategy {
	if r == nil || r.RateLimit == nil {
		return limiter.None()
	}
	return r.RateLimit
}

// JSONHeaders returns Accept/Content-Type headers for JSON APIs.
func JSONHeaders() map[string]string {
	return map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
	}
}

// Response is the terminal outcome of a successful orchestration.
type Response struct {
	Request    *Request
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	FromCache  bool
	CacheKey   string
	Duration   time.Duration
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRateLimitExceeded reports HTTP 429.
func (r *Response) IsRateLimitExceeded() bool {
	return r != nil && r.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports HTTP 404.
func (r *Response) IsNotFound() bool {
	return r != nil && r.StatusCode == http.StatusNotFound
}

// Attempt is one dispatch of a request.
type Attempt struct {
	ID        string
	Request   *Request
	Number    int
	StartedAt time.Time
}
