// Package metric manages Prometheus metric registration for the dashboard.
// It wraps a dedicated Prometheus registry so that scanners and caches can
// register their own metrics without colliding, and exposes the core
// scan-loop metrics shared by every scanner.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// Registry manages the registration and lifecycle of metrics
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Scans              *ScanMetrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a metrics registry with core scan metrics and Go
// runtime collectors pre-registered.
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &Registry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Scans = newScanMetrics()
	prometheusRegistry.MustRegister(
		registry.Scans.Total,
		registry.Scans.Errors,
		registry.Scans.Duration,
	)

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// RegisterCounter registers a counter metric for a component
func (r *Registry) RegisterCounter(component, metricName string, counter prometheus.Counter) error {
	return r.register(component, metricName, counter, "RegisterCounter")
}

// RegisterGauge registers a gauge metric for a component
func (r *Registry) RegisterGauge(component, metricName string, gauge prometheus.Gauge) error {
	return r.register(component, metricName, gauge, "RegisterGauge")
}

// RegisterHistogram registers a histogram metric for a component
func (r *Registry) RegisterHistogram(component, metricName string, histogram prometheus.Histogram) error {
	return r.register(component, metricName, histogram, "RegisterHistogram")
}

// register adds a collector under "component.metricName", rejecting duplicates.
func (r *Registry) register(component, metricName string, collector prometheus.Collector, op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", metricName, component),
			"Registry", op, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", op, "collector already registered with Prometheus")
		}
		return errors.WrapTransient(err, "Registry", op, "prometheus registration")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a metric by component and name. Returns true if removed.
func (r *Registry) Unregister(component, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}
	delete(r.registeredMetrics, key)
	return r.prometheusRegistry.Unregister(collector)
}

// ScanMetrics are the core metrics shared by every scan loop, labelled by
// scanner name.
type ScanMetrics struct {
	Total    *prometheus.CounterVec
	Errors   *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func newScanMetrics() *ScanMetrics {
	return &ScanMetrics{
		Total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reporting",
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Total number of scan runs per scanner",
		}, []string{"scanner"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reporting",
			Subsystem: "scan",
			Name:      "errors_total",
			Help:      "Total number of failed scan runs per scanner",
		}, []string{"scanner"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reporting",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Scan run duration per scanner",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"scanner"}),
	}
}
