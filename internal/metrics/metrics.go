// Package metrics exposes Prometheus collectors for chat sessions and the
// gateway. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "supportchat"

// Send outcomes used as the "status" label.
const (
	SendSent     = "sent"
	SendRejected = "rejected"
	SendQueued   = "queued"
	SendSkipped  = "skipped"
)

type Metrics struct {
	Delivered          prometheus.Counter
	Duplicates         prometheus.Counter
	Malformed          prometheus.Counter
	Sends              *prometheus.CounterVec
	SubscriptionErrors prometheus.Counter
	StateTransitions   *prometheus.CounterVec
	ReconnectAttempts  prometheus.Counter

	GatewayClients prometheus.Gauge
	GatewayRouted  prometheus.Counter
	GatewayDropped prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "messages_delivered_total",
			Help: "Inbound messages handed to the UI after deduplication.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "messages_duplicate_total",
			Help: "Inbound messages discarded because their id was already delivered.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "messages_malformed_total",
			Help: "Inbound payloads that could not be decoded.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "sends_total",
			Help: "Send attempts by outcome.",
		}, []string{"status"}),
		SubscriptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "subscription_errors_total",
			Help: "Failed subscribe or unsubscribe calls.",
		}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "state_transitions_total",
			Help: "Connection state machine transitions by target state.",
		}, []string{"state"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "reconnect_attempts_total",
			Help: "Automatic reconnect attempts.",
		}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "clients",
			Help: "Connected websocket clients.",
		}),
		GatewayRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "messages_routed_total",
			Help: "Messages routed from the send destination onto conversation topics.",
		}),
		GatewayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "frames_dropped_total",
			Help: "Outbound frames dropped because a client was too slow.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Delivered, m.Duplicates, m.Malformed, m.Sends, m.SubscriptionErrors,
			m.StateTransitions, m.ReconnectAttempts,
			m.GatewayClients, m.GatewayRouted, m.GatewayDropped,
		)
	}
	return m
}

func (m *Metrics) IncDelivered() {
	if m != nil {
		m.Delivered.Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func (m *Metrics) IncMalformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) IncSend(status string) {
	if m != nil {
		m.Sends.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncSubscriptionError() {
	if m != nil {
		m.SubscriptionErrors.Inc()
	}
}

func (m *Metrics) IncStateTransition(state string) {
	if m != nil {
		m.StateTransitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) IncReconnect() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) SetGatewayClients(n int) {
	if m != nil {
		m.GatewayClients.Set(float64(n))
	}
}

func (m *Metrics) IncRouted() {
	if m != nil {
		m.GatewayRouted.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.GatewayDropped.Inc()
	}
}
