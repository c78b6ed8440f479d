package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncDelivered()
	m.IncSend(SendSent)
	m.SetGatewayClients(3)
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncDelivered()
	m.IncDelivered()
	m.IncSend(SendRejected)
	m.IncStateTransition("connected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Delivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues(SendRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateTransitions.WithLabelValues("connected")))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
