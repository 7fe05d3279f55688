package webhook

import "github.com/prometheus/client_golang/prometheus"

var events = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow_ledger",
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Gateway callbacks by processing result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(events)
}
