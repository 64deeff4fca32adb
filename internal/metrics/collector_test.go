package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("aiorch", reg, zap.NewNop()), reg
}

func TestObserveRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveRequest("reply-generation", "local", true, 250*time.Millisecond)
	c.ObserveRequest("reply-generation", "cloud", false, time.Second)
	c.ObserveRequest("vision-analysis", "", true, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.requestsTotal.WithLabelValues("reply-generation", "local", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.requestsTotal.WithLabelValues("reply-generation", "cloud", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.requestsTotal.WithLabelValues("vision-analysis", "none", "success")),
		"empty backend is recorded under the none label")
}

func TestSetQueueDepth(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetQueueDepth(3, 7)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.queueRunning))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueWaiting))

	c.SetQueueDepth(0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.queueRunning))
}

func TestObserveCircuitTransition(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveCircuitTransition("local-model", "Closed", "Open", 1)
	c.ObserveCircuitTransition("local-model", "Open", "HalfOpen", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.circuitTransitions.WithLabelValues("local-model", "Closed", "Open")))
	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.circuitState.WithLabelValues("local-model")))
}

func TestObserveFallback(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ObserveFallback("local", "cloud")
	c.ObserveFallback("local", "cloud")

	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.fallbacksTotal.WithLabelValues("local", "cloud")))
}

func TestCollector_RegistersAllMetrics(t *testing.T) {
	_, reg := newTestCollector(t)

	families, err := reg.Gather()
	require.NoError(t, err)
	// Gauges without observations still register; counters appear after use.
	assert.NotEmpty(t, families)
}
