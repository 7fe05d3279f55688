package settlement

import "github.com/prometheus/client_golang/prometheus"

var (
	confirmations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow_ledger",
		Subsystem: "settlement",
		Name:      "confirmations_total",
		Help:      "Payment confirmations by transaction type and outcome.",
	}, []string{"type", "outcome"})

	releases = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "escrow_ledger",
		Subsystem: "settlement",
		Name:      "releases_total",
		Help:      "Escrow releases from pending to available balance.",
	})
)

func init() {
	prometheus.MustRegister(confirmations, releases)
}
