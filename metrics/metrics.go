// Package metrics provides Prometheus instrumentation for the commit-reveal
// gate: authorization outcome counters, session lifecycle counters, and
// storage round-trip histograms.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all gate metrics.
	Namespace = "oko_gate"

	// Label names
	LabelOperation = "operation"
	LabelAPI       = "api"
	LabelOutcome   = "outcome"
	LabelStoreOp   = "store_op"
	LabelBackend   = "backend"
)

var (
	// AuthorizeTotal counts authorization decisions by operation type, api
	// name, and outcome ("authorized" or a deny reason).
	AuthorizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "authorize_total",
			Help:      "Authorization decisions by operation, api, and outcome",
		},
		[]string{LabelOperation, LabelAPI, LabelOutcome},
	)

	// SessionsCommittedTotal counts sessions created, by operation type.
	SessionsCommittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_committed_total",
			Help:      "Sessions created (commitments accepted) by operation",
		},
		[]string{LabelOperation},
	)

	// SessionsCompletedTotal counts sessions transitioned to COMPLETED.
	SessionsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_completed_total",
			Help:      "Sessions transitioned to the COMPLETED state",
		},
	)

	// StoreOpDuration observes storage round-trip latency per store operation
	// and backend.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "store_op_duration_seconds",
			Help:      "Duration of storage operations in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{LabelStoreOp, LabelBackend},
	)
)

// RecordAuthorize increments the decision counter for one authorize attempt.
func RecordAuthorize(operation, api, outcome string) {
	AuthorizeTotal.WithLabelValues(operation, api, outcome).Inc()
}

// RecordCommit increments the session creation counter.
func RecordCommit(operation string) {
	SessionsCommittedTotal.WithLabelValues(operation).Inc()
}

// RecordComplete increments the completion counter.
func RecordComplete() {
	SessionsCompletedTotal.Inc()
}

// ObserveStoreOp records one storage round-trip.
func ObserveStoreOp(storeOp, backend string, d time.Duration) {
	StoreOpDuration.WithLabelValues(storeOp, backend).Observe(d.Seconds())
}
