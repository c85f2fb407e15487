package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/core/es/storetest"
)

func open(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(t.Context(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) es.EventStore {
		return open(t, filepath.Join(t.TempDir(), "events.db"))
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ev := &storetest.Incremented{Counter: "c1", By: 3, At: time.Now()}

	s := open(t, path)
	_, err := es.AppendEvents(t.Context(), s, "counter", "c1", 0, ev)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := open(t, path)
	events, v, err := es.LoadEvents(t.Context(), reopened, storetest.Registry(), "counter", "c1")
	require.NoError(t, err)
	require.Equal(t, es.Version(1), v)
	require.Len(t, events, 1)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(t.Context(), " ", nil)
	require.Error(t, err)
}

func TestIsConstraintError(t *testing.T) {
	require.False(t, isConstraintError(errors.New("random error")))
}
