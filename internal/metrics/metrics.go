// Package metrics exposes the console's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconnects counts re-established signaling connections; the first
	// connect of a run is not a reconnect.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentvoice",
		Subsystem: "signal",
		Name:      "reconnects_total",
		Help:      "Signaling reconnect attempts.",
	})

	// ConnectionUp is 1 while the signaling connection is open.
	ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentvoice",
		Subsystem: "signal",
		Name:      "connection_up",
		Help:      "Whether the signaling connection is open.",
	})

	// Calls counts finished call attempts by direction and end reason.
	Calls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentvoice",
		Subsystem: "call",
		Name:      "finished_total",
		Help:      "Finished call attempts by direction and end reason.",
	}, []string{"direction", "reason"})

	// QueueOffers counts queue offer outcomes: accepted, declined,
	// claimed_elsewhere, ended.
	QueueOffers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentvoice",
		Subsystem: "queue",
		Name:      "offers_total",
		Help:      "Queue call offer outcomes.",
	}, []string{"outcome"})
)
