package replication

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shelfsync"

// Attempt outcomes.
const (
	outcomeSuccess        = "success"
	outcomeRetry          = "retry"
	outcomeRejected       = "rejected"
	outcomeExhausted      = "exhausted"
	outcomeMalformed      = "malformed"
	outcomeReconcileError = "reconcile_failed"
	outcomeDeferred       = "deferred"
)

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "queue_size",
			Help:      "Number of replication entries by state",
		},
		[]string{"state"},
	)

	backendOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "backend_online",
			Help:      "1 if the last probe reached the remote backend",
		},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Total replay attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "request_duration_seconds",
			Help:      "Time to replay one entry against the backend",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	drainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "drain_duration_seconds",
			Help:      "Time to drain the pending queue once",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

func recordAttempt(kind OperationKind, outcome string) {
	attemptsTotal.WithLabelValues(string(kind), outcome).Inc()
}

func recordRequestDuration(kind OperationKind, duration time.Duration) {
	requestDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func recordDrain(duration time.Duration) {
	drainDuration.Observe(duration.Seconds())
}

func recordOnline(online bool) {
	if online {
		backendOnline.Set(1)
		return
	}
	backendOnline.Set(0)
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(pending, deadLetters int) {
	queueSize.WithLabelValues("pending").Set(float64(pending))
	queueSize.WithLabelValues("dead").Set(float64(deadLetters))
}
