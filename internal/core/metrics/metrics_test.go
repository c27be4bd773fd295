package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestMetrics_Record(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.SetRoutes(2)
	m.SetupAttempt(true)
	m.SetupAttempt(false)
	m.SetupAttempt(true)
	m.Replacement(false)
	m.Forward(ResultRejected)
	m.ForwardBytes(10, 4)
	m.SetServedPeers(1)
	m.SetRoutingPeers(3, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.routes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.setupAttempts.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.setupAttempts.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replacements.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forwards.WithLabelValues(ResultRejected)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.forwardBytes.WithLabelValues("in")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.routingPeers.WithLabelValues(BagOverflow)))

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["relaydht_relay_routes"])
	assert.True(t, names["relaydht_routing_peers"])

	t.Log("✅ 指标记录正常")
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetRoutes(1)
		m.SetupAttempt(true)
		m.Replacement(true)
		m.Forward(ResultSuccess)
		m.ForwardBytes(1, 1)
		m.SetServedPeers(1)
		m.SetRoutingPeers(1, 1)
	})
	assert.Nil(t, m.Gatherer())
}

func TestMetrics_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	// 同一注册表重复注册失败
	_, err = New(reg)
	assert.Error(t, err)
}

func TestModule(t *testing.T) {
	var m *Metrics
	app := fxtest.New(t, Module(), fx.Populate(&m))
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, m)
}
