package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Transition("ready")
	m.Transition("ready")
	m.Reconnect()
	m.Frame("message", "applied")
	m.Send("ok")
	m.PersistFailed()
	m.Subscribers(2)
	m.Subscribers(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("message", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RosterPersistFails))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushSubscribers))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("ready")
		m.Reconnect()
		m.Frame("typing", "ignored")
		m.Send("error")
		m.PersistFailed()
		m.Subscribers(1)
	})
}
