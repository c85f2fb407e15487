package nats

import (
	"context"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testImage    = "nats:2.11-alpine"
	nameAlphabet = "abcdefghijklmnopqrstuvwxyz"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// TestServer is a JetStream enabled server living as long as the test that
// started it.
type TestServer struct {
	URL     string
	Connect Connector
}

// StartTestServer runs a server container and terminates it on cleanup.
// Connect shares one connection between all its callers.
func StartTestServer(t Testing) *TestServer {
	ctx := t.Context()
	c, err := testcontainers.Run(
		ctx, testImage,
		testcontainers.WithCmd("-js"),
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("4222/tcp"),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("terminate nats container: %s", err)
		}
	})

	url, err := c.PortEndpoint(ctx, "4222/tcp", "nats")
	require.NoError(t, err)
	t.Logf("nats endpoint: %s", url)
	return &TestServer{URL: url, Connect: ReuseConnection(ConnectURL(url, nil))}
}

// EventStore opens an in-memory stream with a name of its own, so tests
// sharing the server never see each other's events.
func (s *TestServer) EventStore(t Testing) *EventStore {
	suffix := gonanoid.MustGenerate(nameAlphabet, 8)
	store, err := NewEventStore(t.Context(), EventStoreConfig{
		Connect:       s.Connect,
		StreamName:    "test_" + suffix,
		SubjectPrefix: "test." + suffix,
		MemoryStorage: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// KVStore opens an in-memory bucket with a name of its own.
func (s *TestServer) KVStore(t Testing) *KVStore {
	store, err := NewKVStore(t.Context(), KVConfig{
		Connect:       s.Connect,
		Bucket:        "test_" + gonanoid.MustGenerate(nameAlphabet, 8),
		MemoryStorage: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
