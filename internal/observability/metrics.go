// Package observability exposes prometheus metrics for the listener.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relpd",
			Subsystem: "listener",
			Name:      "connections_total",
			Help:      "Accepted connections.",
		},
		[]string{"scheme"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relpd",
			Subsystem: "listener",
			Name:      "connections_active",
			Help:      "Currently open connections.",
		},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relpd",
			Subsystem: "protocol",
			Name:      "frames_total",
			Help:      "Decoded frames by command.",
		},
		[]string{"command"},
	)
	responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relpd",
			Subsystem: "protocol",
			Name:      "responses_total",
			Help:      "Responses written by status code.",
		},
		[]string{"status"},
	)
	framingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relpd",
			Subsystem: "protocol",
			Name:      "framing_errors_total",
			Help:      "Connections dropped for unrecoverable framing errors.",
		},
	)
	eventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relpd",
			Subsystem: "queue",
			Name:      "events_total",
			Help:      "Accepted syslog events pushed to the batching queue.",
		},
	)
	batchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relpd",
			Subsystem: "queue",
			Name:      "batches_total",
			Help:      "Finalized batches.",
		},
	)
	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relpd",
			Subsystem: "queue",
			Name:      "batch_events",
			Help:      "Events per finalized batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

// RegisterMetrics registers all listener metrics with the default
// registry. Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsTotal,
			connectionsActive,
			framesTotal,
			responsesTotal,
			framingErrorsTotal,
			eventsTotal,
			batchesTotal,
			batchSize,
		)
	})
}

// RecordConnectionOpened counts an accepted connection by scheme.
func RecordConnectionOpened(scheme string) {
	connectionsTotal.WithLabelValues(scheme).Inc()
	connectionsActive.Inc()
}

// RecordConnectionClosed decrements the active connection gauge.
func RecordConnectionClosed() {
	connectionsActive.Dec()
}

// RecordFrame counts a decoded frame by command.
func RecordFrame(command string) {
	framesTotal.WithLabelValues(command).Inc()
}

// RecordResponse counts a written response by status code.
func RecordResponse(status int) {
	responsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordFramingError counts a connection dropped for a framing error.
func RecordFramingError() {
	framingErrorsTotal.Inc()
}

// RecordEvent counts an accepted event.
func RecordEvent() {
	eventsTotal.Inc()
}

// RecordBatchFinalized counts a finalized batch and observes its size.
func RecordBatchFinalized(events int) {
	batchesTotal.Inc()
	batchSize.Observe(float64(events))
}
