package bus

import "time"

// Metrics records one observation per dispatched command or query.
// kind is "command" or "query"; outcome is one of the Outcome constants.
type Metrics interface {
	Handled(kind, name, outcome string, took time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Handled(string, string, string, time.Duration) {}

func NopMetrics() Metrics { return nopMetrics{} }
