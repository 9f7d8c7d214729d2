// Package metrics holds the Prometheus collectors of the parking service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parking"

var (
	// GateAttempts counts every attempt made through a gate, by outcome:
	// success, rejected, transient, circuit_open.
	GateAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_attempts_total",
		Help:      "Attempts made against downstream dependencies.",
	}, []string{"dependency", "outcome"})

	// BreakerState is 0 for closed, 1 for half-open and 2 for open.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gate_breaker_state",
		Help:      "Circuit breaker state per dependency (0 closed, 1 half-open, 2 open).",
	}, []string{"dependency"})

	Entries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_total",
		Help:      "Vehicle entry attempts by outcome.",
	}, []string{"outcome"})

	Exits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exits_total",
		Help:      "Vehicle exit attempts by outcome.",
	}, []string{"outcome"})

	// PostPaymentInconsistencies counts exits that captured a payment but
	// could not close the ticket or release the spot.
	PostPaymentInconsistencies = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "post_payment_inconsistencies_total",
		Help:      "Exits escalated for manual reconciliation.",
	})
)

func init() {
	prometheus.MustRegister(GateAttempts, BreakerState, Entries, Exits, PostPaymentInconsistencies)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
