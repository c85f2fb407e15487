//go:build integration

package amqp

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/core/es/storetest"
)

func newTestURL(t *testing.T) string {
	t.Helper()
	rmqC, err := testcontainers.Run(
		t.Context(), "rabbitmq:4-alpine",
		testcontainers.WithExposedPorts("5672/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(2*time.Minute),
			wait.ForListeningPort("5672/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(rmqC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})
	endpoint, err := rmqC.PortEndpoint(t.Context(), "5672/tcp", "")
	require.NoError(t, err)
	return "amqp://guest:guest@" + endpoint + "/"
}

func TestPublisher(t *testing.T) {
	url := newTestURL(t)
	pub, err := Dial(Config{URL: url, Queue: "identity.events"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	store := es.NewDispatchingStore(es.NewInMemoryStore(), mustDispatcher(t, pub))
	res, err := es.AppendEvents(t.Context(), store, "counter", "c1", 0,
		&storetest.Incremented{Counter: "c1", By: 1, At: time.Now()},
		&storetest.Incremented{Counter: "c1", By: 2, At: time.Now()},
	)
	require.NoError(t, err)
	require.Empty(t, store.Pending())

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	ch, err := conn.Channel()
	require.NoError(t, err)

	for _, env := range res.Envelopes {
		get, ok, err := ch.Get("identity.events", true)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, env.ID, get.MessageId)
		require.Equal(t, amqp.Persistent, get.DeliveryMode)
	}

	t.Run("replays are skipped", func(t *testing.T) {
		_, err := es.Rebuild(t.Context(), store, storetest.Registry(), pub)
		require.NoError(t, err)
		_, ok, err := ch.Get("identity.events", true)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func mustDispatcher(t *testing.T, projections ...es.Projection) *es.Dispatcher {
	t.Helper()
	d, err := es.NewDispatcher(storetest.Registry(), projections)
	require.NoError(t, err)
	return d
}
