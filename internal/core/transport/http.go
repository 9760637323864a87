package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultChunkSize is the read size used by Stream.
const DefaultChunkSize = 32 * 1024

// ErrBodyTooLarge is returned when a response body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// HTTP dispatches requests through an *http.Client.
type HTTP struct {
	Client       *http.Client
	UserAgent    string
	MaxBodyBytes int64
	ChunkSize    int
}

// New returns a transport using client, or a client with timeout when client is nil.
func New(client *http.Client, timeout time.Duration, userAgent string) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTP{Client: client, UserAgent: userAgent}
}

// RoundTrip sends req and reads the full response body. The returned
// response body is already closed.
func (t *HTTP) RoundTrip(ctx context.Context, req *http.Request) ([]byte, *http.Response, error) {
	if req == nil {
		return nil, nil, errors.New("request is nil")
	}
	resp, err := t.do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	var reader io.Reader = resp.Body
	limited := t != nil && t.MaxBodyBytes > 0
	if limited {
		// One extra byte tells a body of exactly the limit from a longer one.
		reader = io.LimitReader(resp.Body, t.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, resp, fmt.Errorf("read response body: %w", err)
	}
	if limited && int64(len(body)) > t.MaxBodyBytes {
		return nil, resp, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, t.MaxBodyBytes)
	}
	return body, resp, nil
}

// Chunk is one piece of a streamed body. A non-nil Err ends the stream.
type Chunk struct {
	Data []byte
	Err  error
}

// Download is a streamed response. Chunks is closed when the body is exhausted.
type Download struct {
	Response *http.Response
	// Total is the expected body length, or -1 when unknown.
	Total  int64
	Chunks <-chan Chunk
}

// Stream sends req and returns the body as a sequence of chunks.
func (t *HTTP) Stream(ctx context.Context, req *http.Request) (*Download, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	resp, err := t.do(ctx, req)
	if err != nil {
		return nil, err
	}

	size := DefaultChunkSize
	if t != nil && t.ChunkSize > 0 {
		size = t.ChunkSize
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

		for {
			buf := make([]byte, size)
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				select {
				case chunks <- Chunk{Data: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if readErr == nil {
				continue
			}
			if !errors.Is(readErr, io.EOF) {
				select {
				case chunks <- Chunk{Err: readErr}:
				case <-ctx.Done():
				}
			}
			return
		}
	}()

	return &Download{Response: resp, Total: resp.ContentLength, Chunks: chunks}, nil
}

func (t *HTTP) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req = req.WithContext(ctx)

	client := http.DefaultClient
	if t != nil && t.Client != nil {
		client = t.Client
	}
	if t != nil && t.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	return client.Do(req)
}

// IsTimeout reports whether err came from a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(value); err == nil && parsed.After(now) {
		return parsed.Sub(now)
	}
	return 0
}
