// Package metrics holds the Prometheus instruments for sessions and dispatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nextlevelbuilder/walink/internal/bus"
)

var (
	SessionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "walink_sessions",
		Help: "Number of live sessions by connection state",
	}, []string{"state"})

	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walink_session_transitions_total",
		Help: "Total session state transitions by target state",
	}, []string{"to"})

	PairingResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walink_pairing_results_total",
		Help: "Total pairing attempt completions by outcome",
	}, []string{"outcome"})

	DispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walink_dispatched_events_total",
		Help: "Total inbound events routed to a responder",
	}, []string{"route"})

	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walink_duplicate_events_total",
		Help: "Total inbound events dropped as duplicate deliveries",
	})

	ResponderFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walink_responder_failures_total",
		Help: "Total responder failures (compose or send) by responder",
	}, []string{"responder"})

	OutboxDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walink_outbox_dropped_total",
		Help: "Total outbound calls dropped by responder and reason",
	}, []string{"responder", "reason"})
)

// IncDispatched records an event routed to route.
func IncDispatched(route string) {
	DispatchedTotal.WithLabelValues(route).Inc()
}

// IncResponderFailure records a failure inside a responder.
func IncResponderFailure(responder string) {
	if responder == "" {
		responder = "unknown"
	}
	ResponderFailuresTotal.WithLabelValues(responder).Inc()
}

// IncOutboxDrop records a dropped outbound call with a concrete reason.
func IncOutboxDrop(responder, reason string) {
	if responder == "" {
		responder = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	OutboxDroppedTotal.WithLabelValues(responder, reason).Inc()
}

// Observe keeps the session instruments in step with lifecycle events on b.
func Observe(b *bus.Bus) {
	b.Subscribe("metrics", func(e bus.Event) {
		switch p := e.Payload.(type) {
		case bus.SessionState:
			if p.From != "" {
				SessionsByState.WithLabelValues(p.From).Dec()
			}
			if p.To != "terminated" {
				SessionsByState.WithLabelValues(p.To).Inc()
			}
			StateTransitionsTotal.WithLabelValues(p.To).Inc()
		case bus.PairingResult:
			PairingResultsTotal.WithLabelValues(p.Outcome).Inc()
		}
	})
}
