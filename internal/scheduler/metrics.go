package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileMatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrow_ledger",
		Subsystem: "scheduler",
		Name:      "reconcile_matches_total",
		Help:      "Pending transactions confirmed by reconciliation.",
	})

	gatewayFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrow_ledger",
		Subsystem: "scheduler",
		Name:      "gateway_failures_total",
		Help:      "Reconciliation ticks that could not reach the gateway.",
	})

	purged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrow_ledger",
		Subsystem: "scheduler",
		Name:      "purged_total",
		Help:      "Expired pending transactions marked failed.",
	})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "escrow_ledger",
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Duration of scheduled job runs in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(reconcileMatches, gatewayFailures, purged, runDuration)
}
