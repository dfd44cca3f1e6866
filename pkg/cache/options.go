package cache

import (
	"github.com/apache/infrastructure-reporting-dashboard/metric"
)

// Option configures store behavior using the functional options pattern.
type Option[V any] func(*storeOptions[V])

// storeOptions holds internal configuration for store instances.
// Stats are always collected; metrics are optional via WithMetrics().
type storeOptions[V any] struct {
	metricsReg    *metric.Registry
	metricsPrefix string
}

// WithMetrics enables Prometheus metrics export for store statistics.
// If registry is nil or prefix is empty, the option is ignored.
func WithMetrics[V any](registry *metric.Registry, prefix string) Option[V] {
	return func(opts *storeOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// applyOptions applies functional options to create final store configuration.
func applyOptions[V any](options ...Option[V]) *storeOptions[V] {
	opts := &storeOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
