// Package metrics defines package-level Prometheus metric variables for the
// http-sink. Call Register() once at startup to expose them on the default
// registry, or RegisterWith() to use an isolated registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsSent counts HTTP requests issued, labelled by submission mode.
	RequestsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_sink_requests_sent_total",
		Help: "HTTP requests issued, by mode (single|batch).",
	}, []string{"mode"})

	// Records counts records after classification.
	// Valid outcomes: success, failed.
	Records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_sink_records_total",
		Help: "Records classified after a flush, by outcome (success|failed).",
	}, []string{"outcome"})

	// RecordsSkipped counts input lines that never became records.
	RecordsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_sink_records_skipped_total",
		Help: "Input lines skipped before submission, by reason.",
	}, []string{"reason"})

	// TransportErrors counts calls that produced no response.
	// Valid types: timeout, tls, network.
	TransportErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_sink_transport_errors_total",
		Help: "Calls that failed before a response arrived, by type (timeout|tls|network).",
	}, []string{"type"})

	// RequestDuration observes the latency of calls that produced a response.
	RequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "http_sink_request_duration_seconds",
		Help:    "Latency of HTTP calls that received a response.",
		Buckets: prometheus.DefBuckets,
	})

	// Flushes counts completed flushes.
	// Valid results: ok, partial, error.
	Flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_sink_flushes_total",
		Help: "Flushes completed, by result (ok|partial|error).",
	}, []string{"result"})

	// SpoolRecords is the number of failed records waiting for replay.
	SpoolRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_sink_spool_records",
		Help: "Failed records waiting in the spool.",
	})

	// SpoolCorruptDropped counts spool entries discarded because they could
	// not be decoded.
	SpoolCorruptDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_sink_spool_corrupt_dropped_total",
		Help: "Spool entries dropped during drain because they could not be decoded.",
	})

	// BboltDBSizeBytes is the on-disk size of the spool database.
	BboltDBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_sink_spool_db_size_bytes",
		Help: "Size of the bbolt spool file in bytes.",
	})
)

// Register registers all metrics with prometheus.DefaultRegisterer.
// Call once at process startup.
func Register() {
	RegisterWith(prometheus.DefaultRegisterer)
}

// RegisterWith registers all metrics with the given registerer.
// Use an isolated prometheus.NewRegistry() in tests to avoid conflicts.
func RegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestsSent,
		Records,
		RecordsSkipped,
		TransportErrors,
		RequestDuration,
		Flushes,
		SpoolRecords,
		SpoolCorruptDropped,
		BboltDBSizeBytes,
	)
}
