package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for the scrape pipeline.
type Metrics struct {
	// Fetch metrics
	PagesFetched  atomic.Int64
	FetchFailures atomic.Int64
	FetchTimeouts atomic.Int64

	// Extraction metrics
	OffersExtracted   atomic.Int64
	ArticlesExtracted atomic.Int64
	RecordsSkipped    atomic.Int64

	// Cache metrics
	CacheHits           atomic.Int64
	CacheMisses         atomic.Int64
	PersistenceFailures atomic.Int64

	// Scheduler metrics
	CyclesCompleted atomic.Int64
	SourceFailures  atomic.Int64

	openContexts func() int64
	logger       *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// TrackOpenContexts registers the gauge source for open browser contexts.
func (m *Metrics) TrackOpenContexts(fn func() int64) {
	m.openContexts = fn
}

// RecordFetchError classifies a failed fetch.
func (m *Metrics) RecordFetchError(timeout bool) {
	if timeout {
		m.FetchTimeouts.Add(1)
		return
	}
	m.FetchFailures.Add(1)
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		kind  string
		value int64
	}{
		{"hotline_pages_fetched_total", "Total pages acquired", "counter", m.PagesFetched.Load()},
		{"hotline_fetch_failures_total", "Total failed page acquisitions", "counter", m.FetchFailures.Load()},
		{"hotline_fetch_timeouts_total", "Total page acquisitions that timed out", "counter", m.FetchTimeouts.Load()},
		{"hotline_offers_extracted_total", "Total offers extracted", "counter", m.OffersExtracted.Load()},
		{"hotline_articles_extracted_total", "Total articles extracted", "counter", m.ArticlesExtracted.Load()},
		{"hotline_records_skipped_total", "Total malformed records skipped", "counter", m.RecordsSkipped.Load()},
		{"hotline_cache_hits_total", "Total reads served from cache", "counter", m.CacheHits.Load()},
		{"hotline_cache_misses_total", "Total reads that required a live fetch", "counter", m.CacheMisses.Load()},
		{"hotline_persistence_failures_total", "Total failed store writes", "counter", m.PersistenceFailures.Load()},
		{"hotline_cycles_completed_total", "Total scheduler cycles completed", "counter", m.CyclesCompleted.Load()},
		{"hotline_source_failures_total", "Total scheduler source failures", "counter", m.SourceFailures.Load()},
		{"hotline_browser_open_contexts", "Currently open browser contexts", "gauge", m.openContextCount()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.kind)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

func (m *Metrics) openContextCount() int64 {
	if m.openContexts == nil {
		return 0
	}
	return m.openContexts()
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"pages_fetched":        m.PagesFetched.Load(),
		"fetch_failures":       m.FetchFailures.Load(),
		"fetch_timeouts":       m.FetchTimeouts.Load(),
		"offers_extracted":     m.OffersExtracted.Load(),
		"articles_extracted":   m.ArticlesExtracted.Load(),
		"records_skipped":      m.RecordsSkipped.Load(),
		"cache_hits":           m.CacheHits.Load(),
		"cache_misses":         m.CacheMisses.Load(),
		"persistence_failures": m.PersistenceFailures.Load(),
		"cycles_completed":     m.CyclesCompleted.Load(),
		"source_failures":      m.SourceFailures.Load(),
		"open_contexts":        m.openContextCount(),
	}
}
