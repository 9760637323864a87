package output

import (
	"fmt"
	"strings"

	"github.com/benetwork/benetwork/internal/core/engine"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/store"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatResults(results []Result) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Request | Status | Code | Attempts | Error |\n")
	sb.WriteString("|---------|--------|------|----------|-------|\n")
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s |\n",
			escapeMarkdownCell(r.label()),
			escapeMarkdownCell(r.status()),
			codeCell(r.StatusCode),
			r.Attempts,
			escapeMarkdownCell(r.Error),
		))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatLimiters(snapshots []limiter.Snapshot) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Limiter | Type | Rate | State |\n")
	sb.WriteString("|---------|------|------|-------|\n")
	for _, s := range snapshots {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			escapeMarkdownCell(s.Name),
			escapeMarkdownCell(string(s.Kind)),
			escapeMarkdownCell(limiterDetail(s)),
			escapeMarkdownCell(limiterState(s)),
		))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatCacheEntries(entries []store.CacheEntry) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Key | Size | Hits | Expires |\n")
	sb.WriteString("|-----|------|------|---------|\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %s |\n",
			escapeMarkdownCell(e.Key), e.Size, e.Hits, formatTime(&e.ExpiresAt)))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatStats(stats engine.Stats) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Counter | Value |\n")
	sb.WriteString("|---------|-------|\n")
	for _, row := range statRows(stats) {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", row.name, row.value))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
