// Package metrics exposes delivery and ingestion counters via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	SendAttempts      *prometheus.CounterVec
	MessagesDelivered prometheus.Counter
	MessagesFailed    prometheus.Counter
	InboundDropped    *prometheus.CounterVec
	OutboxDepth       prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshtalk_send_attempts_total",
			Help: "Per-recipient transport send attempts by result.",
		}, []string{"result"}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshtalk_messages_delivered_total",
			Help: "Messages that reached at least one recipient.",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshtalk_messages_failed_total",
			Help: "Messages that exhausted every delivery attempt.",
		}),
		InboundDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshtalk_inbound_dropped_total",
			Help: "Inbound envelopes dropped before persistence, by reason.",
		}, []string{"reason"}),
		OutboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshtalk_outbox_depth",
			Help: "Messages currently waiting in the retry queue.",
		}),
	}
	reg.MustRegister(m.SendAttempts, m.MessagesDelivered, m.MessagesFailed, m.InboundDropped, m.OutboxDepth)
	return m
}
