package buffer

import (
	"github.com/optseb/spinemlnet/metric"
)

// Option configures queue behavior using the functional options pattern.
type Option[T any] func(*queueOptions[T])

// queueOptions holds internal configuration for queue instances.
// Stats are ALWAYS collected - they are not optional.
// Metrics are optional and enabled via WithMetrics().
type queueOptions[T any] struct {
	initialCapacity int

	// metricsReg is optional - if provided, queue stats are also exposed
	// as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string
}

// WithInitialCapacity sets the starting ring size. The queue still
// grows without bound; this only avoids early reallocation for
// streams with a known large frame width.
func WithInitialCapacity[T any](n int) Option[T] {
	return func(opts *queueOptions[T]) {
		opts.initialCapacity = n
	}
}

// WithMetrics enables Prometheus metrics export for queue statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *queueOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// applyOptions applies functional options to create final queue configuration.
func applyOptions[T any](options ...Option[T]) *queueOptions[T] {
	opts := &queueOptions[T]{}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
