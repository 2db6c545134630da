package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_turns_total",
			Help: "Total number of conversation turns by outcome.",
		},
		[]string{"outcome"},
	)
	turnDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_turn_duration_seconds",
			Help:    "End-to-end pipeline latency per turn.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
	)
	statementsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablechat_statements_rejected_total",
			Help: "Total number of generated statements rejected by the policy check.",
		},
	)
	warehouseQueryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_warehouse_query_duration_seconds",
			Help:    "Warehouse statement execution latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		turnDurationSeconds,
		statementsRejectedTotal,
		warehouseQueryDurationSeconds,
	)
}

func ObserveTurn(outcome string, elapsed time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementStatementRejected() {
	statementsRejectedTotal.Inc()
}

func ObserveWarehouseQuery(elapsed time.Duration) {
	warehouseQueryDurationSeconds.Observe(elapsed.Seconds())
}
