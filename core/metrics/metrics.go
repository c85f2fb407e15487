// Package metrics holds the instrumentation types the core packages depend
// on, so that they stay independent of any metrics backend. The Prometheus
// implementations live in adapters/prometheus.
package metrics

import "time"

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	ObserveDuration()
}

// Observer receives a single sample, e.g. a histogram or summary.
type Observer interface {
	Observe(value float64)
}

type observerTimer struct {
	o     Observer
	start time.Time
	now   func() time.Time
}

// NewTimer starts a Timer that reports the elapsed seconds to o.
func NewTimer(o Observer) Timer { return newTimerAt(o, time.Now) }

func newTimerAt(o Observer, now func() time.Time) Timer {
	return &observerTimer{o: o, start: now(), now: now}
}

func (t *observerTimer) ObserveDuration() { t.o.Observe(t.now().Sub(t.start).Seconds()) }

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a no-op Timer.
func NopTimer() Timer { return nopTimer{} }
