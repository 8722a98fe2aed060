package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	err := registry.RegisterCounter("test-service", "test_counter", counter)
	require.NoError(t, err)

	// Same key again must be rejected
	err = registry.RegisterCounter("test-service", "test_counter", counter)
	require.Error(t, err)
}

func TestMetricsRegistry_RegisterGauge(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "A test gauge",
	})

	require.NoError(t, registry.RegisterGauge("test-service", "test_gauge", gauge))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "removable_counter",
		Help: "A counter that will be removed",
	})

	require.NoError(t, registry.RegisterCounter("svc", "removable", counter))
	assert.True(t, registry.Unregister("svc", "removable"))
	assert.False(t, registry.Unregister("svc", "removable"))

	// After unregistering, the same name can be registered again
	require.NoError(t, registry.RegisterCounter("svc", "removable", counter))
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	// Smoke-test the recording helpers; values are verified by scrape
	// in integration environments.
	m.RecordConnectionOpened("source")
	m.RecordConnectionClosed("source", "finished")
	m.RecordHandshake("name", "ok")
	m.RecordFrame("pop1", "in", 80)
	m.RecordAck("pop1")
	m.RecordProtocolError("pop1", "short_message")
	m.RecordNATSStatus(true)
	m.RecordNATSReconnect()
	m.RecordTapPublishError()
}
