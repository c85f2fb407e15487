package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/core/metrics"
)

// ESMetrics implements es.ESMetrics using Prometheus.
type ESMetrics struct {
	// Store metrics
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec

	// Dispatch metrics
	projectionEventDuration *prometheus.HistogramVec
	projectionEvents        *prometheus.CounterVec
	redeliveryQueue         prometheus.Gauge
}

func NewESMetrics(reg prometheus.Registerer) *ESMetrics {
	m := &ESMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_load_duration_seconds",
			Help:      "Event store load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_append_duration_seconds",
			Help:      "Event store append latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"aggregate_type"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_repo_load_duration_seconds",
			Help:      "Repository load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_repo_save_duration_seconds",
			Help:      "Repository save latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_concurrency_conflicts_total",
			Help:      "Total number of rejected compare-and-append calls",
		}, []string{"aggregate_type"}),

		projectionEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_projection_event_duration_seconds",
			Help:      "Projection handling time per event in seconds",
			Buckets:   defaultBuckets,
		}, []string{"projection", "event_type"}),

		projectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_projection_events_total",
			Help:      "Total number of events delivered to projections",
		}, []string{"projection", "event_type", "success"}),

		redeliveryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "es_redelivery_queue_size",
			Help:      "Failed deliveries waiting for redelivery",
		}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.projectionEventDuration,
		m.projectionEvents,
		m.redeliveryQueue,
	)

	return m
}

func (m *ESMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return metrics.NewTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return metrics.NewTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *ESMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return metrics.NewTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return metrics.NewTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *ESMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *ESMetrics) ProjectionEventDuration(projection, eventType string) metrics.Timer {
	return metrics.NewTimer(m.projectionEventDuration.WithLabelValues(projection, eventType))
}

func (m *ESMetrics) ProjectionEventProcessed(projection, eventType string, success bool) {
	m.projectionEvents.WithLabelValues(projection, eventType, boolLabel(success)).Inc()
}

func (m *ESMetrics) RedeliveryQueueSize(size int) {
	m.redeliveryQueue.Set(float64(size))
}

var _ es.ESMetrics = (*ESMetrics)(nil)
