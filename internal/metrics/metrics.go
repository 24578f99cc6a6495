package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway counters. HTTP-level request metrics come from the echo
// prometheus middleware, these track pipeline outcomes.
var (
	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kuvert_sends_total",
		Help: "Send pipeline outcomes.",
	}, []string{"outcome"}) // queued, failed, cached, rejected

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kuvert_webhook_events_total",
		Help: "Inbound provider webhook events by outcome.",
	}, []string{"outcome"}) // ingested, ignored

	Forwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kuvert_forwards_total",
		Help: "Outbound event forwards by outcome.",
	}, []string{"outcome"}) // ok, error
)
