package estests

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/core/es/estests/domain"
)

func newCounterRepo(t *testing.T, store es.EventStore, opts ...es.RepositoryOption) *es.Repository[*domain.Counter] {
	t.Helper()
	return es.NewRepository(store, domain.NewRegistry(), domain.AggType, domain.Reconstitute, opts...)
}

func TestAggregate_RaiseAndApply(t *testing.T) {
	now := time.Now().UTC()
	c := domain.NewCounter("c1")

	require.NoError(t, c.IncBy(5, now))
	require.NoError(t, c.IncBy(3, now))
	require.EqualValues(t, 8, c.Value())
	require.Len(t, c.Recorded(), 2)

	t.Run("invalid event is neither applied nor recorded", func(t *testing.T) {
		require.Error(t, c.IncBy(0, now))
		require.EqualValues(t, 8, c.Value())
		require.Len(t, c.Recorded(), 2)
	})

	t.Run("failing apply records nothing", func(t *testing.T) {
		require.Error(t, c.IncBy(20, now))
		require.EqualValues(t, 8, c.Value())
		require.Len(t, c.Recorded(), 2)
	})

	t.Run("unknown event is an integrity error", func(t *testing.T) {
		err := c.Break(now)
		require.ErrorIs(t, err, es.ErrUnknownEventType)
		require.Len(t, c.Recorded(), 2)
	})

	t.Run("release drains once", func(t *testing.T) {
		released := c.ReleaseEvents()
		require.Len(t, released, 2)
		require.Empty(t, c.ReleaseEvents())
		require.NotNil(t, c.ReleaseEvents())
	})
}

func TestAggregate_ReplayEquivalence(t *testing.T) {
	now := time.Now().UTC()
	live := domain.NewCounter("c1")
	require.NoError(t, live.IncBy(4, now))
	require.NoError(t, live.Reset(now))
	require.NoError(t, live.IncBy(9, now))

	replayed, err := domain.Reconstitute(live.ReleaseEvents())
	require.NoError(t, err)
	require.Empty(t, replayed.ReleaseEvents())

	require.Equal(t, live.Value(), replayed.Value())
	require.Equal(t, live.NumIncrements(), replayed.NumIncrements())
	require.Equal(t, live.NumResets(), replayed.NumResets())
	require.Equal(t, live.GetID(), replayed.GetID())

	_, err = domain.Reconstitute([]es.Event{&domain.Broken{ID: "c1", At: now}})
	require.ErrorIs(t, err, es.ErrUnknownEventType)
}

func TestRepository_NotFound(t *testing.T) {
	called := false
	repo := es.NewRepository(
		es.NewInMemoryStore(),
		domain.NewRegistry(),
		domain.AggType,
		func(events []es.Event) (*domain.Counter, error) {
			called = true
			return domain.Reconstitute(events)
		},
	)

	_, v, err := repo.Load(t.Context(), "missing")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
	require.Equal(t, es.Version(0), v)
	require.False(t, called, "reconstitute must not run for a stream at version 0")
}

func TestRepository_SaveAndLoad(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	var (
		store = es.NewInMemoryStore()
		repo  = newCounterRepo(t, store, es.WithLog(slog.Default()))
		now   = time.Now().UTC()
	)

	c := domain.NewCounter("c1")
	require.NoError(t, c.IncBy(7, now))
	res, err := repo.Save(t.Context(), c, 0)
	require.NoError(t, err)
	require.Len(t, res.Envelopes, 1)
	require.Empty(t, c.ReleaseEvents())

	loaded, v, err := repo.Load(t.Context(), "c1")
	require.NoError(t, err)
	require.Equal(t, es.Version(1), v)
	require.EqualValues(t, 7, loaded.Value())
	require.Empty(t, loaded.ReleaseEvents())

	require.NoError(t, loaded.IncBy(2, now))
	_, err = repo.Save(t.Context(), loaded, v)
	require.NoError(t, err)

	v, err = repo.Version(t.Context(), "c1")
	require.NoError(t, err)
	require.Equal(t, es.Version(2), v)

	t.Run("nothing recorded is a no-op", func(t *testing.T) {
		res, err := repo.Save(t.Context(), domain.NewCounter("c1"), 0)
		require.NoError(t, err)
		require.Empty(t, res.Envelopes)
	})
}

func TestRepository_StaleSaveConflicts(t *testing.T) {
	var (
		m     = newCountingMetrics()
		store = es.NewInMemoryStore()
		repo  = newCounterRepo(t, store, es.WithMetrics(m))
		now   = time.Now().UTC()
	)

	c := domain.NewCounter("c1")
	require.NoError(t, c.IncBy(1, now))
	_, err := repo.Save(t.Context(), c, 0)
	require.NoError(t, err)

	a, va, err := repo.Load(t.Context(), "c1")
	require.NoError(t, err)
	b, vb, err := repo.Load(t.Context(), "c1")
	require.NoError(t, err)

	require.NoError(t, a.IncBy(1, now))
	require.NoError(t, b.IncBy(2, now))

	_, err = repo.Save(t.Context(), a, va)
	require.NoError(t, err)
	_, err = repo.Save(t.Context(), b, vb)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.Equal(t, 1, m.conflicts[domain.AggType])

	final, v, err := repo.Load(t.Context(), "c1")
	require.NoError(t, err)
	require.Equal(t, es.Version(2), v)
	require.EqualValues(t, 2, final.Value())
}

func TestRepository_UnregisteredEventInStream(t *testing.T) {
	store := es.NewInMemoryStore()
	_, err := es.AppendEvents(t.Context(), store, domain.AggType, "c1", 0, &domain.Broken{ID: "c1", At: time.Now()})
	require.NoError(t, err)

	_, _, err = newCounterRepo(t, store).Load(t.Context(), "c1")
	require.ErrorIs(t, err, es.ErrUnknownEventType)
}
