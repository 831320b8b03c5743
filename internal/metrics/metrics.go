// Package metrics holds the Prometheus collectors of the chat client and the
// dev collaborator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketchat"

// Metrics groups every collector.
type Metrics struct {
	SessionTransitions *prometheus.CounterVec
	ReconnectAttempts  prometheus.Counter
	FramesReceived     *prometheus.CounterVec
	Sends              *prometheus.CounterVec
	RosterPersistFails prometheus.Counter
	PushSubscribers    prometheus.Gauge
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Connection session state transitions by target status.",
		}, []string{"status"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnect_attempts_total",
			Help:      "Push channel reconnect attempts.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frames_received_total",
			Help:      "Push frames received by event and outcome.",
		}, []string{"event", "outcome"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "sends_total",
			Help:      "Message sends by result.",
		}, []string{"result"}),
		RosterPersistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "roster",
			Name:      "persist_failures_total",
			Help:      "Roster writes or reads the local store could not serve.",
		}),
		PushSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "push_subscribers",
			Help:      "Push channel connections currently attached to the dev collaborator.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionTransitions,
			m.ReconnectAttempts,
			m.FramesReceived,
			m.Sends,
			m.RosterPersistFails,
			m.PushSubscribers,
		)
	}
	return m
}

// Transition counts a session entering status.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(status).Inc()
}

// Reconnect counts a reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// Frame counts a push frame by event and outcome.
func (m *Metrics) Frame(event, outcome string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(event, outcome).Inc()
}

// Send counts a message send by result.
func (m *Metrics) Send(result string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(result).Inc()
}

// PersistFailed counts a roster store failure.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.RosterPersistFails.Inc()
}

// Subscribers moves the push subscriber gauge by delta.
func (m *Metrics) Subscribers(delta float64) {
	if m == nil {
		return
	}
	m.PushSubscribers.Add(delta)
}
