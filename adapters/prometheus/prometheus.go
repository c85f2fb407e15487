// Package prometheus implements the es and bus metrics interfaces with
// Prometheus collectors.
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "identity"

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// Metrics holds every collector the identity service exports.
type Metrics struct {
	ES  *ESMetrics
	Bus *BusMetrics
}

// New registers all identity collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ES:  NewESMetrics(reg),
		Bus: NewBusMetrics(reg),
	}
}

func boolLabel(b bool) string { return strconv.FormatBool(b) }
