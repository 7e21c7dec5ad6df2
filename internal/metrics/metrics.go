// Package metrics provides Prometheus metrics for the ingestion process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsIngestedTotal tracks items handed to the pipeline by kind and result
	ItemsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "ingest",
			Name:      "items_total",
			Help:      "Total number of stream items ingested by kind and result",
		},
		[]string{"kind", "result"},
	)

	// IngestDuration tracks how long one item takes, upstream lookups included
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "subledger",
			Subsystem: "ingest",
			Name:      "item_duration_seconds",
			Help:      "Duration of item ingestion in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	// EntitiesCreatedTotal tracks rows inserted by entity
	EntitiesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "store",
			Name:      "entities_created_total",
			Help:      "Total number of newly created rows by entity",
		},
		[]string{"entity"},
	)

	// SnapshotsWrittenTotal tracks author snapshots appended
	SnapshotsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "store",
			Name:      "snapshots_written_total",
			Help:      "Total number of author snapshots appended",
		},
	)

	// SnapshotsSkippedTotal tracks snapshots not written by reason
	SnapshotsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "ingest",
			Name:      "snapshots_skipped_total",
			Help:      "Total number of author snapshots skipped by reason",
		},
		[]string{"reason"},
	)

	// SentinelSubstitutionsTotal tracks authors replaced by the missing-author row
	SentinelSubstitutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "ingest",
			Name:      "sentinel_substitutions_total",
			Help:      "Total number of unresolvable authors replaced by the sentinel",
		},
		[]string{"role"},
	)

	// StreamKeepalivesTotal tracks empty polls per stream
	StreamKeepalivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "stream",
			Name:      "keepalives_total",
			Help:      "Total number of keepalives yielded by each stream",
		},
		[]string{"stream"},
	)

	// StreamErrorsTotal tracks tolerated stream errors
	StreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Total number of tolerated stream errors",
		},
		[]string{"stream"},
	)

	// HTTPRequestsTotal tracks upstream API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subledger",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of upstream API requests",
		},
		[]string{"endpoint", "status_code"},
	)

	// HTTPRequestDuration tracks upstream API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "subledger",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream API requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)
)

// RecordIngest records the outcome of one pipeline call
func RecordIngest(kind, result string, durationSeconds float64) {
	ItemsIngestedTotal.WithLabelValues(kind, result).Inc()
	IngestDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordCreated records a newly inserted row
func RecordCreated(entity string) {
	EntitiesCreatedTotal.WithLabelValues(entity).Inc()
}

// RecordSnapshotSkipped records a snapshot that was not written
func RecordSnapshotSkipped(reason string) {
	SnapshotsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordSentinel records a sentinel substitution for an item or parent author
func RecordSentinel(role string) {
	SentinelSubstitutionsTotal.WithLabelValues(role).Inc()
}

// RecordKeepalive records an empty poll on a stream
func RecordKeepalive(stream string) {
	StreamKeepalivesTotal.WithLabelValues(stream).Inc()
}

// RecordStreamError records a stream error the consumer moved past
func RecordStreamError(stream string) {
	StreamErrorsTotal.WithLabelValues(stream).Inc()
}

// RecordHTTPRequest records an upstream API request
func RecordHTTPRequest(endpoint, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(endpoint, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}
