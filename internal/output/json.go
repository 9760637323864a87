package output

import (
	"encoding/json"

	"github.com/benetwork/benetwork/internal/core/engine"
	"github.com/benetwork/benetwork/internal/core/limiter"
	"github.com/benetwork/benetwork/internal/core/store"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatResults(results []Result) (string, error) {
	if results == nil {
		results = []Result{}
	}
	return f.marshal(results)
}

func (f *JSONFormatter) FormatLimiters(snapshots []limiter.Snapshot) (string, error) {
	if snapshots == nil {
		snapshots = []limiter.Snapshot{}
	}
	return f.marshal(snapshots)
}

func (f *JSONFormatter) FormatCacheEntries(entries []store.CacheEntry) (string, error) {
	if entries == nil {
		entries = []store.CacheEntry{}
	}
	return f.marshal(entries)
}

func (f *JSONFormatter) FormatStats(stats engine.Stats) (string, error) {
	return f.marshal(stats)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
