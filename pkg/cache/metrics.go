package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/apache/infrastructure-reporting-dashboard/metric"
)

// storeMetrics holds Prometheus metrics for store operations.
type storeMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// newStoreMetrics creates and registers store metrics with the provided registry.
func newStoreMetrics(registry *metric.Registry, prefix string) (*storeMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "reporting",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"store": prefix},
			Help:        help,
		})
	}

	m := &storeMetrics{
		hits:      counter("hits_total", "Total number of cache hits"),
		misses:    counter("misses_total", "Total number of cache misses"),
		sets:      counter("sets_total", "Total number of cache set operations"),
		deletes:   counter("deletes_total", "Total number of cache delete operations"),
		evictions: counter("evictions_total", "Total number of cache evictions"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "reporting",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"store": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	if err := registry.RegisterCounter(prefix, "cache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_sets", m.sets); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_deletes", m.deletes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *storeMetrics) recordHit()      { m.hits.Inc() }
func (m *storeMetrics) recordMiss()     { m.misses.Inc() }
func (m *storeMetrics) recordSet()      { m.sets.Inc() }
func (m *storeMetrics) recordDelete()   { m.deletes.Inc() }
func (m *storeMetrics) recordEviction() { m.evictions.Inc() }

func (m *storeMetrics) updateSize(size int) { m.size.Set(float64(size)) }
