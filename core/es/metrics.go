package es

import (
	"context"
	"errors"

	"github.com/codewandler/identity-go/core/metrics"
)

// ESMetrics defines the metrics interface for the event sourcing core.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)

	// Dispatch
	ProjectionEventDuration(projection, eventType string) metrics.Timer
	ProjectionEventProcessed(projection, eventType string, success bool)
	RedeliveryQueueSize(size int)
}

// nopESMetrics is a no-op implementation of ESMetrics.
type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConcurrencyConflict(string)            {}

func (nopESMetrics) ProjectionEventDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ProjectionEventProcessed(string, string, bool)        {}
func (nopESMetrics) RedeliveryQueueSize(int)                              {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

// === instrumented store ===

type instrumentedStore struct {
	EventStore
	m ESMetrics
}

// InstrumentStore wraps store so that loads, appends and conflicts are
// recorded on m. A GlobalReader store keeps its ReadAll.
func InstrumentStore(store EventStore, m ESMetrics) EventStore {
	is := &instrumentedStore{EventStore: store, m: m}
	if r, ok := store.(GlobalReader); ok {
		return &instrumentedReaderStore{instrumentedStore: is, r: r}
	}
	return is
}

func (s *instrumentedStore) Load(ctx context.Context, aggType, aggID string) ([]Envelope, error) {
	defer s.m.StoreLoadDuration(aggType).ObserveDuration()
	return s.EventStore.Load(ctx, aggType, aggID)
}

func (s *instrumentedStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected Version,
	events []Envelope,
) (*AppendResult, error) {
	t := s.m.StoreAppendDuration(aggType)
	res, err := s.EventStore.Append(ctx, aggType, aggID, expected, events)
	t.ObserveDuration()
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		s.m.ConcurrencyConflict(aggType)
	case err == nil:
		s.m.EventsAppended(aggType, len(res.Envelopes))
	}
	return res, err
}

type instrumentedReaderStore struct {
	*instrumentedStore
	r GlobalReader
}

func (s *instrumentedReaderStore) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]Envelope, error) {
	return s.r.ReadAll(ctx, afterSeq, limit)
}
