package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts server activity. Nothing here depends on plaintext.
type Metrics struct {
	searches  *prometheus.CounterVec
	slots     prometheus.Counter
	publishes prometheus.Counter
	failures  *prometheus.CounterVec
}

// NewMetrics registers the server counters with reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ste_searches_total",
			Help: "Search tokens answered, by scheme and round.",
		}, []string{"scheme", "round"}),
		slots: f.NewCounter(prometheus.CounterOpts{
			Name: "ste_slots_returned_total",
			Help: "Encrypted slots returned to clients.",
		}),
		publishes: f.NewCounter(prometheus.CounterOpts{
			Name: "ste_publish_total",
			Help: "Indexes published.",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ste_request_failures_total",
			Help: "Failed requests, by gRPC code.",
		}, []string{"code"}),
	}
}
