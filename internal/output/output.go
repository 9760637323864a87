package output

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benetwork/benetwork/internal/core"
	"github.com/benetwork/benetwork/internal/core/engine"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders command results.
type Formatter interface {
	FormatResults(results []Result) (string, error)
	FormatLimiters(snapshots []limiter.Snapshot) (string, error)
	FormatCacheEntries(entries []store.CacheEntry) (string, error)
	FormatStats(stats engine.Stats) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// Result summarizes one orchestrated request.
type Result struct {
	Name       string        `json:"name,omitempty"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code,omitempty"`
	Attempts   int           `json:"attempts"`
	FromCache  bool          `json:"from_cache"`
	Bytes      int           `json:"bytes"`
	Duration   time.Duration `json:"duration_ns"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Body       string        `json:"body,omitempty"`
}

// NewResult builds a Result from an orchestrator outcome.
func NewResult(req *core.Request, resp *core.Response, err error) Result {
	result := Result{}
	if req != nil {
		result.Name = req.Name
		result.Method = string(req.Method)
		if result.Method == "" {
			result.Method = string(core.MethodGet)
		}
		if target, urlErr := req.URL(); urlErr == nil {
			result.URL = target.String()
		} else {
			result.URL = req.BaseURL
		}
	}
	if resp != nil {
		result.StatusCode = resp.StatusCode
		result.Attempts = resp.Attempts
		result.FromCache = resp.FromCache
		result.Bytes = len(resp.Body)
		result.Duration = resp.Duration
	}
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = string(core.KindOf(err))
		var reqErr *core.RequestError
		if errors.As(err, &reqErr) {
			result.Attempts = reqErr.Attempts
			if reqErr.StatusCode != 0 {
				result.StatusCode = reqErr.StatusCode
			}
		}
	}
	return result
}

// WithBody attaches the response body, truncated to limit bytes when limit > 0.
func (r Result) WithBody(body []byte, limit int) Result {
	if limit > 0 && len(body) > limit {
		r.Body = string(body[:limit]) + "..."
		return r
	}
	r.Body = string(body)
	return r
}

func (r Result) status() string {
	switch {
	case r.Error != "":
		return "error"
	case r.FromCache:
		return "cached"
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return "ok"
	default:
		return "http " + fmt.Sprint(r.StatusCode)
	}
}

func (r Result) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Method + " " + r.URL
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.String()
}

func limiterDetail(s limiter.Snapshot) string {
	switch s.Kind {
	case limiter.KindFixedDelay:
		return "every " + formatDuration(s.Interval)
	case limiter.KindDebounce:
		return "debounce " + formatDuration(s.WaitTime)
	case limiter.KindFrequency:
		detail := fmt.Sprintf("%d/%d per %s", s.CurrentLimit, s.Baseline, s.Interval)
		if s.Backend != "" {
			detail += " (" + string(s.Backend) + ")"
		}
		return detail
	default:
		return "-"
	}
}

func limiterState(s limiter.Snapshot) string {
	switch s.Kind {
	case limiter.KindFrequency:
		state := fmt.Sprintf("in window %d, hits %d, decreases %d", s.InWindow, s.Hits, s.Decreases)
		if !s.AdjustmentEnabled {
			state += ", adjustment paused"
		}
		if s.CooldownUntil != nil {
			state += ", cooling down until " + formatTime(s.CooldownUntil)
		}
		return state
	case limiter.KindDebounce:
		if s.Pending {
			return "pending"
		}
		return "idle"
	case limiter.KindFixedDelay:
		return "last run " + formatTime(s.LastExecutedAt)
	default:
		return "-"
	}
}
