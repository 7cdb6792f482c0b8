package syncstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmindex_syncstore_operation_duration_seconds",
			Help:    "Duration of sync store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	opRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_syncstore_operation_retries_total",
			Help: "Total number of sync store operation retries",
		},
		[]string{"operation"},
	)

	opErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_syncstore_operation_errors_total",
			Help: "Total number of terminal (non-retried-away) sync store operation errors",
		},
		[]string{"operation"},
	)
)

func operationDuration(operation string, d time.Duration) {
	opDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func operationRetryInc(operation string) {
	opRetries.WithLabelValues(operation).Inc()
}

func operationErrorInc(operation string) {
	opErrors.WithLabelValues(operation).Inc()
}
