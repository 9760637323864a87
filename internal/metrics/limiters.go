package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benetwork/benetwork/internal/core/limiter"
)

// SnapshotSource lists live limiter state.
type SnapshotSource interface {
	Snapshots() []limiter.Snapshot
}

// LimiterCollector exports limiter state as Prometheus gauges at scrape time.
type LimiterCollector struct {
	source SnapshotSource

	currentLimit *prometheus.Desc
	baseline     *prometheus.Desc
	inWindow     *prometheus.Desc
	hits         *prometheus.Desc
	decreases    *prometheus.Desc
	adjusting    *prometheus.Desc
	pending      *prometheus.Desc
}

// NewLimiterCollector builds a collector over source.
func NewLimiterCollector(source SnapshotSource) *LimiterCollector {
	labels := []string{"limiter", "type"}
	return &LimiterCollector{
		source: source,
		currentLimit: prometheus.NewDesc("benetwork_limiter_current_limit",
			"Effective requests per interval after adaptive decreases", labels, nil),
		baseline: prometheus.NewDesc("benetwork_limiter_baseline_limit",
			"Configured requests per interval", labels, nil),
		inWindow: prometheus.NewDesc("benetwork_limiter_in_window",
			"Requests started within the current interval", labels, nil),
		hits: prometheus.NewDesc("benetwork_limiter_rate_limit_hits",
			"Rate-limit signals counted toward the next decrease", labels, nil),
		decreases: prometheus.NewDesc("benetwork_limiter_decreases",
			"Adaptive decreases since the last reset", labels, nil),
		adjusting: prometheus.NewDesc("benetwork_limiter_adjustment_enabled",
			"1 when adaptive decreases are armed", labels, nil),
		pending: prometheus.NewDesc("benetwork_limiter_pending",
			"1 when a debounced call is scheduled", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *LimiterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.currentLimit
	ch <- c.baseline
	ch <- c.inWindow
	ch <- c.hits
	ch <- c.decreases
	ch <- c.adjusting
	ch <- c.pending
}

// Collect implements prometheus.Collector.
func (c *LimiterCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	for _, snap := range c.source.Snapshots() {
		labels := []string{snap.Name, string(snap.Kind)}
		switch snap.Kind {
		case limiter.KindFrequency:
			ch <- prometheus.MustNewConstMetric(c.currentLimit, prometheus.GaugeValue, float64(snap.CurrentLimit), labels...)
			ch <- prometheus.MustNewConstMetric(c.baseline, prometheus.GaugeValue, float64(snap.Baseline), labels...)
			ch <- prometheus.MustNewConstMetric(c.inWindow, prometheus.GaugeValue, float64(snap.InWindow), labels...)
			ch <- prometheus.MustNewConstMetric(c.hits, prometheus.GaugeValue, float64(snap.Hits), labels...)
			ch <- prometheus.MustNewConstMetric(c.decreases, prometheus.GaugeValue, float64(snap.Decreases), labels...)
			ch <- prometheus.MustNewConstMetric(c.adjusting, prometheus.GaugeValue, boolValue(snap.AdjustmentEnabled), labels...)
		case limiter.KindDebounce:
			ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, boolValue(snap.Pending), labels...)
		}
	}
}

// LimiterHandler serves the collector on a dedicated registry.
func LimiterHandler(source SnapshotSource) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewLimiterCollector(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
