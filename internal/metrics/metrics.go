// Package metrics exposes the trending engine's operational counters and
// gauges over Prometheus's exposition format, grounded on the signal set
// tracked by the teacher's hand-rolled internal/metrics/metrics.go
// (per-label counters, a value snapshot), replaced with a real
// prometheus/client_golang registry so vectors and histograms are
// available without hand-rolling exposition-format rendering.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram the trending engine emits.
type Metrics struct {
	Registry *prometheus.Registry

	EventsIngested     *prometheus.CounterVec
	EventsRejected     *prometheus.CounterVec
	DuplicatesSeen     prometheus.Counter
	RefreshDuration    *prometheus.HistogramVec
	BoardSize          *prometheus.GaugeVec
	SubscribersDropped prometheus.Counter
	QueueDepth         prometheus.Gauge
}

// New constructs a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EventsIngested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "trending",
			Name:      "events_ingested_total",
			Help:      "Number of view events successfully counted into a bucket.",
		}, []string{"category"}),
		EventsRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "trending",
			Name:      "events_rejected_total",
			Help:      "Number of view events rejected, labeled by error code.",
		}, []string{"code"}),
		DuplicatesSeen: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "trending",
			Name:      "duplicate_events_total",
			Help:      "Number of view events discarded by the idempotency guard.",
		}),
		RefreshDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trending",
			Name:      "board_refresh_seconds",
			Help:      "Wall-clock time spent recomputing one (window, category) board.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"window", "category"}),
		BoardSize: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trending",
			Name:      "board_entries",
			Help:      "Number of videos currently tracked in a board's Top-K set.",
		}, []string{"window", "category"}),
		SubscribersDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "trending",
			Name:      "subscribers_dropped_total",
			Help:      "Number of change-feed subscribers disconnected for falling behind.",
		}),
		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "trending",
			Name:      "ingest_queue_depth",
			Help:      "Current number of events waiting in the ingest queue.",
		}),
	}
	return m
}
