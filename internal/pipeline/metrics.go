package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks ingestion outcomes.
type Metrics struct {
	processed         prometheus.Counter
	parseFailures     prometheus.Counter
	storeFailures     prometheus.Counter
	duplicatesSkipped prometheus.Counter
	manifestConflicts prometheus.Counter
	manifestExhausted prometheus.Counter
	forwarded         prometheus.Counter
	forwardFailures   prometheus.Counter
	duration          prometheus.Histogram
}

// NewMetrics registers the pipeline metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		processed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_messages_processed_total",
			Help: "Messages ingested successfully",
		}),
		parseFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_parse_failures_total",
			Help: "Messages rejected as unparseable",
		}),
		storeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_store_failures_total",
			Help: "Blob or index writes that failed",
		}),
		duplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_duplicates_skipped_total",
			Help: "Messages skipped by the dedup fast path",
		}),
		manifestConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_manifest_conflicts_total",
			Help: "Manifest merges that needed at least one retry",
		}),
		manifestExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_manifest_exhausted_total",
			Help: "Manifest merges abandoned after exhausting retries",
		}),
		forwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_messages_forwarded_total",
			Help: "Messages re-sent by a forwarding rule",
		}),
		forwardFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_forward_failures_total",
			Help: "Best-effort forward deliveries that failed",
		}),
		duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailroom_ingest_duration_seconds",
			Help:    "Per-message ingestion latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ConflictHook adapts the conflict counter for the manifest compactor.
func (m *Metrics) ConflictHook() func() {
	if m == nil {
		return func() {}
	}
	return m.manifestConflicts.Inc
}
