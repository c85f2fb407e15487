package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/identity-go/core/bus"
)

// BusMetrics implements bus.Metrics using Prometheus.
type BusMetrics struct {
	duration *prometheus.HistogramVec
	handled  *prometheus.CounterVec
}

func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_handle_duration_seconds",
			Help:      "Command and query handling time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"kind", "name"}),

		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_handled_total",
			Help:      "Total number of dispatched commands and queries by outcome",
		}, []string{"kind", "name", "outcome"}),
	}
	reg.MustRegister(m.duration, m.handled)
	return m
}

func (m *BusMetrics) Handled(kind, name, outcome string, took time.Duration) {
	m.duration.WithLabelValues(kind, name).Observe(took.Seconds())
	m.handled.WithLabelValues(kind, name, outcome).Inc()
}

var _ bus.Metrics = (*BusMetrics)(nil)
