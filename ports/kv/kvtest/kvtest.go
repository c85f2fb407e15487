// Package kvtest holds the behavior every kv.Store implementation must show.
package kvtest

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/identity-go/ports/kv"
)

type doc struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

// Run executes the suite against stores returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := kv.Get[doc](t.Context(), s, "missing/"+gonanoid.Must(8))
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("put get overwrite delete", func(t *testing.T) {
		s := newStore(t)
		key := "docs/" + gonanoid.Must(8)

		require.NoError(t, kv.Put(t.Context(), s, key, doc{Name: "P1", Age: 10}, kv.PutOptions{}))
		loaded, err := kv.Get[doc](t.Context(), s, key)
		require.NoError(t, err)
		require.Equal(t, doc{Name: "P1", Age: 10}, loaded)

		require.NoError(t, kv.Put(t.Context(), s, key, doc{Name: "P1", Age: 11}, kv.PutOptions{}))
		loaded, err = kv.Get[doc](t.Context(), s, key)
		require.NoError(t, err)
		require.Equal(t, 11, loaded.Age)

		require.NoError(t, s.Delete(t.Context(), key))
		_, err = kv.Get[doc](t.Context(), s, key)
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		s := newStore(t)
		prefix := "k" + gonanoid.Must(6) + "/"
		for _, k := range []string{"a", "b", "c"} {
			require.NoError(t, s.Put(t.Context(), prefix+k, kv.Entry{Data: []byte(`{}`)}, kv.PutOptions{}))
		}
		require.NoError(t, s.Put(t.Context(), "other/"+gonanoid.Must(6), kv.Entry{Data: []byte(`{}`)}, kv.PutOptions{}))

		keys, err := s.Keys(t.Context(), prefix)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{prefix + "a", prefix + "b", prefix + "c"}, keys)
	})
}
