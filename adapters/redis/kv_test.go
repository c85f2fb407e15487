//go:build integration

package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/identity-go/ports/kv"
	"github.com/codewandler/identity-go/ports/kv/kvtest"
)

func newTestAddr(t *testing.T) string {
	t.Helper()
	redisC, err := testcontainers.Run(
		t.Context(), "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})
	endpoint, err := redisC.PortEndpoint(t.Context(), "6379/tcp", "")
	require.NoError(t, err)
	return endpoint
}

func TestKVStore(t *testing.T) {
	store, err := Open(t.Context(), Config{Addr: newTestAddr(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	kvtest.Run(t, func(t *testing.T) kv.Store { return store })

	t.Run("namespaces are disjoint", func(t *testing.T) {
		other := NewKVStore(store.rdb, "other:")
		require.NoError(t, other.Put(t.Context(), "ns/a", kv.Entry{Data: []byte(`1`)}, kv.PutOptions{}))

		_, err := store.Get(t.Context(), "ns/a")
		require.ErrorIs(t, err, kv.ErrNotFound)
		keys, err := other.Keys(t.Context(), "ns/")
		require.NoError(t, err)
		require.Equal(t, []string{"ns/a"}, keys)
	})

	t.Run("ttl expires", func(t *testing.T) {
		require.NoError(t, store.Put(t.Context(), "ttl/a", kv.Entry{Data: []byte(`1`)}, kv.PutOptions{TTL: time.Second}))
		require.Eventually(t, func() bool {
			_, err := store.Get(t.Context(), "ttl/a")
			return errors.Is(err, kv.ErrNotFound)
		}, 5*time.Second, 100*time.Millisecond)
	})
}
