package estests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/core/es/storetest"
)

func TestInMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) es.EventStore { return es.NewInMemoryStore() })
}

func TestInstrumentedStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) es.EventStore {
		return es.InstrumentStore(es.NewInMemoryStore(), es.NopESMetrics())
	})
}

type countingMetrics struct {
	es.ESMetrics
	mu        sync.Mutex
	appended  map[string]int
	conflicts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		ESMetrics: es.NopESMetrics(),
		appended:  map[string]int{},
		conflicts: map[string]int{},
	}
}

func (m *countingMetrics) EventsAppended(aggType string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended[aggType] += n
}

func (m *countingMetrics) ConcurrencyConflict(aggType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[aggType]++
}

func TestInstrumentedStore_Counts(t *testing.T) {
	m := newCountingMetrics()
	s := es.InstrumentStore(es.NewInMemoryStore(), m)

	ev := &storetest.Incremented{Counter: "c1", By: 1, At: time.Now()}
	_, err := es.AppendEvents(t.Context(), s, "counter", "c1", 0, ev, ev)
	require.NoError(t, err)
	_, err = es.AppendEvents(t.Context(), s, "counter", "c1", 0, ev)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)

	require.Equal(t, 2, m.appended["counter"])
	require.Equal(t, 1, m.conflicts["counter"])

	_, ok := s.(es.GlobalReader)
	require.True(t, ok)
}

func TestAppendEvents_AggregateMismatch(t *testing.T) {
	s := es.NewInMemoryStore()
	ev := &storetest.Incremented{Counter: "other", By: 1, At: time.Now()}

	_, err := es.AppendEvents(t.Context(), s, "counter", "c1", 0, ev)
	require.ErrorIs(t, err, es.ErrAggregateMismatch)

	_, err = es.AppendEvents(t.Context(), s, "counter", "c1", 0)
	require.ErrorIs(t, err, es.ErrStoreNoEvents)
}

func TestEncode_NormalizesTime(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, loc)

	env, err := es.Encode("id-1", "counter", 1, &storetest.Incremented{Counter: "c1", By: 1, At: at})
	require.NoError(t, err)
	require.Equal(t, time.UTC, env.OccurredAt.Location())
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), env.OccurredAt)
	require.Equal(t, "storetest.incremented", env.Type)
	require.Equal(t, "c1", env.AggregateID)
}

func TestEnvelope_Validate(t *testing.T) {
	valid := es.Envelope{
		ID:            "x",
		Version:       1,
		AggregateType: "counter",
		AggregateID:   "c1",
		Type:          "storetest.incremented",
		OccurredAt:    time.Now(),
	}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(e *es.Envelope){
		"id":          func(e *es.Envelope) { e.ID = "" },
		"version":     func(e *es.Envelope) { e.Version = 0 },
		"agg type":    func(e *es.Envelope) { e.AggregateType = "" },
		"agg id":      func(e *es.Envelope) { e.AggregateID = "" },
		"type":        func(e *es.Envelope) { e.Type = "" },
		"occurred at": func(e *es.Envelope) { e.OccurredAt = time.Time{} },
	} {
		t.Run(name, func(t *testing.T) {
			e := valid
			mutate(&e)
			require.Error(t, e.Validate())
		})
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := storetest.Registry()
	_, err := reg.Decode(es.Envelope{Type: "nope", Data: []byte(`{}`)})
	require.ErrorIs(t, err, es.ErrUnknownEventType)

	var unknown *es.UnknownEventTypeError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "nope", unknown.Type)

	require.ElementsMatch(t, []string{"storetest.incremented"}, reg.Types())
}
