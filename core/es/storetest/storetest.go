// Package storetest holds the behavior every es.EventStore implementation
// must show. Adapters call Run from their own tests.
package storetest

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/identity-go/core/es"
)

const aggType = "counter"

// Incremented is the event the suite appends.
type Incremented struct {
	Counter string    `json:"counter"`
	By      int       `json:"by"`
	At      time.Time `json:"at"`
}

func (e *Incremented) EventType() string     { return "storetest.incremented" }
func (e *Incremented) AggregateID() string   { return e.Counter }
func (e *Incremented) OccurredAt() time.Time { return e.At }

// Registry returns a registry that decodes the suite's events.
func Registry() *es.EventRegistry {
	r := es.NewRegistry()
	es.RegisterEvents(r, es.EventOf[Incremented]())
	return r
}

func newCounterID() string { return "c-" + gonanoid.Must(10) }

func incremented(counter string, by int) *Incremented {
	return &Incremented{Counter: counter, By: by, At: es.NormalizeTime(time.Now())}
}

func envelopes(t *testing.T, counter string, expected es.Version, n int) []es.Envelope {
	t.Helper()
	return envelopesOf(t, aggType, counter, expected, n)
}

func envelopesOf(t *testing.T, typ, counter string, expected es.Version, n int) []es.Envelope {
	t.Helper()
	evs := make([]es.Event, 0, n)
	for i := 0; i < n; i++ {
		evs = append(evs, incremented(counter, i+1))
	}
	out, err := es.EncodeEvents(es.DefaultIDGenerator(), typ, counter, expected, evs...)
	require.NoError(t, err)
	return out
}

// Run executes the conformance suite. newStore must return an empty store,
// or at least one in which the suite's random stream ids are unused.
func Run(t *testing.T, newStore func(t *testing.T) es.EventStore) {
	t.Run("unknown stream is empty at version 0", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()

		v, err := s.Version(t.Context(), aggType, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)

		loaded, err := s.Load(t.Context(), aggType, id)
		require.NoError(t, err)
		require.Empty(t, loaded)
	})

	t.Run("append advances version by number of events", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()

		res, err := s.Append(t.Context(), aggType, id, 0, envelopes(t, id, 0, 1))
		require.NoError(t, err)
		require.Len(t, res.Envelopes, 1)
		requireVersion(t, s, id, 1)

		res, err = s.Append(t.Context(), aggType, id, 1, envelopes(t, id, 1, 3))
		require.NoError(t, err)
		require.Len(t, res.Envelopes, 3)
		requireVersion(t, s, id, 4)

		loaded, err := s.Load(t.Context(), aggType, id)
		require.NoError(t, err)
		require.Len(t, loaded, 4)
		for i, e := range loaded {
			require.Equal(t, es.Version(i+1), e.Version)
		}
	})

	t.Run("committed envelopes carry increasing sequence", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()

		res, err := s.Append(t.Context(), aggType, id, 0, envelopes(t, id, 0, 3))
		require.NoError(t, err)
		require.Len(t, res.Envelopes, 3)
		for i := 1; i < len(res.Envelopes); i++ {
			require.Greater(t, res.Envelopes[i].Seq, res.Envelopes[i-1].Seq)
		}
		require.Equal(t, res.Envelopes[2].Seq, res.LastSeq)
	})

	t.Run("wrong expected version conflicts and writes nothing", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()

		_, err := s.Append(t.Context(), aggType, id, 0, envelopes(t, id, 0, 2))
		require.NoError(t, err)

		for _, expected := range []es.Version{0, 1, 3, 10} {
			_, err = s.Append(t.Context(), aggType, id, expected, envelopes(t, id, expected, 2))
			require.ErrorIs(t, err, es.ErrConcurrencyConflict, "expected=%d", expected)

			var conflict *es.ConcurrencyConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, expected, conflict.Expected)
			assert.Equal(t, es.Version(2), conflict.Actual)
			assert.Equal(t, id, conflict.AggregateID)
			assert.Equal(t, aggType, conflict.AggregateType)
		}

		requireVersion(t, s, id, 2)
		loaded, err := s.Load(t.Context(), aggType, id)
		require.NoError(t, err)
		require.Len(t, loaded, 2)
	})

	t.Run("preconditions", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()

		_, err := s.Append(t.Context(), aggType, id, 0, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)

		other := newCounterID()
		_, err = s.Append(t.Context(), aggType, id, 0, envelopes(t, other, 0, 1))
		require.ErrorIs(t, err, es.ErrAggregateMismatch)

		requireVersion(t, s, id, 0)
		requireVersion(t, s, other, 0)
	})

	t.Run("envelope and event round-trip", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()
		reg := Registry()

		ev := incremented(id, 42)
		envs, err := es.EncodeEvents(es.DefaultIDGenerator(), aggType, id, 0, ev)
		require.NoError(t, err)
		_, err = s.Append(t.Context(), aggType, id, 0, envs)
		require.NoError(t, err)

		loaded, err := s.Load(t.Context(), aggType, id)
		require.NoError(t, err)
		require.Len(t, loaded, 1)

		got := loaded[0]
		require.Equal(t, envs[0].ID, got.ID)
		require.Equal(t, envs[0].Type, got.Type)
		require.Equal(t, envs[0].AggregateType, got.AggregateType)
		require.Equal(t, envs[0].AggregateID, got.AggregateID)
		require.Equal(t, es.Version(1), got.Version)
		require.True(t, envs[0].OccurredAt.Equal(got.OccurredAt), "%s != %s", envs[0].OccurredAt, got.OccurredAt)
		require.Equal(t, time.UTC, got.OccurredAt.Location())

		decoded, err := reg.Decode(got)
		require.NoError(t, err)
		require.Equal(t, ev, decoded)

		events, v, err := es.LoadEvents(t.Context(), s, reg, aggType, id)
		require.NoError(t, err)
		require.Equal(t, es.Version(1), v)
		require.Equal(t, []es.Event{ev}, events)
	})

	t.Run("streams are isolated", func(t *testing.T) {
		s := newStore(t)
		a, b := newCounterID(), newCounterID()

		_, err := s.Append(t.Context(), aggType, a, 0, envelopes(t, a, 0, 2))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), aggType, b, 0, envelopes(t, b, 0, 1))
		require.NoError(t, err)

		requireVersion(t, s, a, 2)
		requireVersion(t, s, b, 1)

		v, err := s.Version(t.Context(), "other_type", a)
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)
	})

	t.Run("type and id never run together", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()
		typA, idA := "kind-"+id, "x"
		typB, idB := "kind", id+"-x"

		_, err := s.Append(t.Context(), typA, idA, 0, envelopesOf(t, typA, idA, 0, 1))
		require.NoError(t, err)

		v, err := s.Version(t.Context(), typB, idB)
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)
		_, err = s.Append(t.Context(), typB, idB, 0, envelopesOf(t, typB, idB, 0, 2))
		require.NoError(t, err)

		v, err = s.Version(t.Context(), typA, idA)
		require.NoError(t, err)
		require.Equal(t, es.Version(1), v)
		loaded, err := s.Load(t.Context(), typB, idB)
		require.NoError(t, err)
		require.Len(t, loaded, 2)
	})

	t.Run("concurrent appends at one version: exactly one wins", func(t *testing.T) {
		s := newStore(t)
		id := newCounterID()

		const writers = 8
		var (
			wins      atomic.Int32
			conflicts atomic.Int32
			g         errgroup.Group
		)
		for i := 0; i < writers; i++ {
			envs := envelopes(t, id, 0, 2)
			g.Go(func() error {
				_, err := s.Append(t.Context(), aggType, id, 0, envs)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, es.ErrConcurrencyConflict):
					conflicts.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.Equal(t, int32(1), wins.Load())
		require.Equal(t, int32(writers-1), conflicts.Load())
		requireVersion(t, s, id, 2)
	})

	t.Run("global read", func(t *testing.T) {
		s := newStore(t)
		reader, ok := s.(es.GlobalReader)
		if !ok {
			t.Skipf("%T does not implement es.GlobalReader", s)
		}

		start, err := lastSeq(t, reader)
		require.NoError(t, err)

		a, b := newCounterID(), newCounterID()
		_, err = s.Append(t.Context(), aggType, a, 0, envelopes(t, a, 0, 2))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), aggType, b, 0, envelopes(t, b, 0, 1))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), aggType, a, 2, envelopes(t, a, 2, 1))
		require.NoError(t, err)

		all, err := reader.ReadAll(t.Context(), start, 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		require.Equal(t, []string{a, a, b, a}, []string{all[0].AggregateID, all[1].AggregateID, all[2].AggregateID, all[3].AggregateID})
		for i := 1; i < len(all); i++ {
			require.Greater(t, all[i].Seq, all[i-1].Seq)
		}

		page, err := reader.ReadAll(t.Context(), all[1].Seq, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, all[2].ID, page[0].ID)
	})
}

func requireVersion(t *testing.T, s es.EventStore, id string, want es.Version) {
	t.Helper()
	v, err := s.Version(t.Context(), aggType, id)
	require.NoError(t, err)
	require.Equal(t, want, v)
}

func lastSeq(t *testing.T, r es.GlobalReader) (uint64, error) {
	t.Helper()
	var seq uint64
	for {
		batch, err := r.ReadAll(t.Context(), seq, 1000)
		if err != nil {
			return 0, err
		}
		if len(batch) == 0 {
			return seq, nil
		}
		seq = batch[len(batch)-1].Seq
	}
}
