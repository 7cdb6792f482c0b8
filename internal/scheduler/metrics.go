package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	functionCheckpoint = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_function_checkpoint",
			Help: "In-memory processed-to checkpoint block number per indexing function",
		},
		[]string{"function"},
	)

	gatewayCheckpointGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_gateway_checkpoint",
			Help: "Current global checkpoint block number the scheduler is loading against",
		},
	)

	indexingHasError = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_indexing_has_error",
			Help: "1 if the scheduler has halted after exhausting task retries, 0 otherwise",
		},
	)

	reorgTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_reorg_total",
			Help: "Total number of reorgs handled by the scheduler",
		},
	)

	eventsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_events_processed_total",
			Help: "Total number of eventsProcessed emissions",
		},
	)
)

func setIndexingHasError(v bool) {
	if v {
		indexingHasError.Set(1)
		return
	}
	indexingHasError.Set(0)
}
