package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/benetwork/benetwork/internal/core/engine"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/store"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// FormatResults renders request outcomes with a summary footer.
func (f *TableFormatter) FormatResults(results []Result) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Request", "Status", "Code", "Attempts", "Bytes", "Duration", "Error"})

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
		t.AppendRow(table.Row{
			r.label(),
			r.status(),
			codeCell(r.StatusCode),
			r.Attempts,
			r.Bytes,
			formatDuration(r.Duration),
			r.Error,
		})
	}
	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d/%d ok", len(results)-failed, len(results)),
		"", "", "", "", "",
	})
	return t.Render(), nil
}

// FormatLimiters renders limiter snapshots.
func (f *TableFormatter) FormatLimiters(snapshots []limiter.Snapshot) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Limiter", "Type", "Rate", "State"})
	for _, s := range snapshots {
		t.AppendRow(table.Row{s.Name, string(s.Kind), limiterDetail(s), limiterState(s)})
	}
	return t.Render(), nil
}

// FormatCacheEntries renders stored cache entries.
func (f *TableFormatter) FormatCacheEntries(entries []store.CacheEntry) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Key", "Size", "Hits", "Stored", "Expires"})
	for _, e := range entries {
		expires := formatTime(&e.ExpiresAt)
		if e.Expired {
			expires += " (expired)"
		}
		t.AppendRow(table.Row{e.Key, e.Size, e.Hits, formatTime(&e.StoredAt), expires})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d entries", len(entries)), "", "", "", ""})
	return t.Render(), nil
}

// FormatStats renders orchestrator counters.
func (f *TableFormatter) FormatStats(stats engine.Stats) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Counter", "Value"})
	for _, row := range statRows(stats) {
		t.AppendRow(table.Row{row.name, row.value})
	}
	return t.Render(), nil
}

func codeCell(code int) string {
	if code == 0 {
		return "-"
	}
	return fmt.Sprint(code)
}

type statRow struct {
	name  string
	value int64
}

func statRows(stats engine.Stats) []statRow {
	return []statRow{
		{"requests", stats.Requests},
		{"attempts", stats.Attempts},
		{"completed", stats.Completed},
		{"failed", stats.Failed},
		{"rate limit retries", stats.RateLimitRetries},
		{"timeout retries", stats.TimeoutRetries},
		{"generic retries", stats.GenericRetries},
		{"cache hits", stats.CacheHits},
		{"cache misses", stats.CacheMisses},
		{"cache writes", stats.CacheWrites},
		{"deduplicated", stats.Deduplicated},
	}
}
