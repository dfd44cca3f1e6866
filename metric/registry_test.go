package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

func TestRegisterCounter(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test counter",
	})
	require.NoError(t, registry.RegisterCounter("downloads", "test_counter", counter))

	// Same key again is rejected as invalid
	err := registry.RegisterCounter("downloads", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "test gauge",
	})
	require.NoError(t, registry.RegisterGauge("jira", "test_gauge", gauge))

	assert.True(t, registry.Unregister("jira", "test_gauge"))
	assert.False(t, registry.Unregister("jira", "test_gauge"))

	// Can re-register after unregistering
	require.NoError(t, registry.RegisterGauge("jira", "test_gauge", gauge))
}

func TestScanMetricsPresent(t *testing.T) {
	registry := NewRegistry()
	require.NotNil(t, registry.Scans)

	registry.Scans.Total.WithLabelValues("downloads").Inc()
	registry.Scans.Errors.WithLabelValues("downloads").Inc()
	registry.Scans.Duration.WithLabelValues("downloads").Observe(1.5)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["reporting_scan_runs_total"])
	assert.True(t, names["reporting_scan_errors_total"])
	assert.True(t, names["reporting_scan_duration_seconds"])
}
