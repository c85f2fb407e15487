// Package nats backs the event store and the read model with NATS
// JetStream.
package nats

import (
	"log/slog"
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

const urlEnvVar = "NATS_URL"

type closeFunc = func()

// Connector opens a connection. The returned close func releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// ReuseConnection shares one connection between every caller of the
// returned Connector. The connection is closed once the last lease is
// released and reopened on the next call.
func ReuseConnection(connect Connector) Connector {
	var (
		mu       sync.Mutex
		nc       *natsgo.Conn
		closeCon closeFunc
		leased   int
	)
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		leased--
		if leased == 0 && closeCon != nil {
			closeCon()
			nc, closeCon = nil, nil
		}
	}
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			var err error
			nc, closeCon, err = connect()
			if err != nil {
				return nil, nil, err
			}
		}
		leased++
		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

// ConnectURL dials url and logs connection state changes to log.
func ConnectURL(url string, log *slog.Logger) Connector {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "nats"))
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			url,
			natsgo.Name("identity"),
			natsgo.MaxReconnects(3),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				log.Warn("disconnected", slog.Any("error", err))
			}),
			natsgo.ReconnectHandler(func(c *natsgo.Conn) {
				log.Info("reconnected", slog.String("url", c.ConnectedUrlRedacted()))
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault dials $NATS_URL, or the local default server.
func ConnectDefault() Connector {
	if url := os.Getenv(urlEnvVar); url != "" {
		return ConnectURL(url, nil)
	}
	return ConnectURL(natsgo.DefaultURL, nil)
}
