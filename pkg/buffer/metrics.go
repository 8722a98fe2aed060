package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/optseb/spinemlnet/metric"
)

// queueMetrics holds Prometheus metrics for queue operations.
type queueMetrics struct {
	pushes prometheus.Counter
	pops   prometheus.Counter
	peeks  prometheus.Counter

	size      prometheus.Gauge
	highWater prometheus.Gauge

	// high is the last high-water value pushed to the gauge. Guarded by
	// the owning queue's lock - all record* calls happen under it.
	high int
}

// newQueueMetrics creates and registers queue metrics with the provided registry.
func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	m := &queueMetrics{
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "spinemlnet",
			Subsystem:   "queue",
			Name:        "pushes_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of samples pushed",
		}),
		pops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "spinemlnet",
			Subsystem:   "queue",
			Name:        "pops_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of samples popped",
		}),
		peeks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "spinemlnet",
			Subsystem:   "queue",
			Name:        "peeks_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of peek operations",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "spinemlnet",
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of samples queued",
		}),
		highWater: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "spinemlnet",
			Subsystem:   "queue",
			Name:        "high_water",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Largest number of samples the queue has held",
		}),
	}

	if err := registry.RegisterCounter(prefix, "queue_pushes", m.pushes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_pops", m.pops); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "queue_peeks", m.peeks); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_high_water", m.highWater); err != nil {
		return nil, err
	}

	return m, nil
}

// recordPush adds n to the push counter and updates the size gauges.
func (m *queueMetrics) recordPush(n, size int) {
	m.pushes.Add(float64(n))
	m.updateSize(size)
}

// recordPop adds n to the pop counter and updates the size gauge.
func (m *queueMetrics) recordPop(n, size int) {
	m.pops.Add(float64(n))
	m.size.Set(float64(size))
}

// recordPeek increments the peek counter.
func (m *queueMetrics) recordPeek() {
	m.peeks.Inc()
}

// updateSize sets the current size and raises the high-water mark.
func (m *queueMetrics) updateSize(size int) {
	m.size.Set(float64(size))
	if size > m.high {
		m.high = size
		m.highWater.Set(float64(size))
	}
}
