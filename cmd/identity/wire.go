package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/identity-go/adapters/amqp"
	"github.com/codewandler/identity-go/adapters/nats"
	"github.com/codewandler/identity-go/adapters/postgres"
	promadapter "github.com/codewandler/identity-go/adapters/prometheus"
	"github.com/codewandler/identity-go/adapters/redis"
	"github.com/codewandler/identity-go/adapters/sqlite"
	"github.com/codewandler/identity-go/config"
	"github.com/codewandler/identity-go/core/bus"
	"github.com/codewandler/identity-go/core/cache"
	"github.com/codewandler/identity-go/core/clock"
	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/core/perkey"
	"github.com/codewandler/identity-go/identity/app"
	"github.com/codewandler/identity-go/identity/readmodel"
	"github.com/codewandler/identity-go/identity/user"
	"github.com/codewandler/identity-go/ports/kv"
)

// service is one wired identity process.
type service struct {
	log         *slog.Logger
	bus         *bus.Bus
	store       *es.DispatchingStore
	reader      es.GlobalReader
	readModel   *readmodel.Store
	projections []es.Projection
	registry    prometheus.Gatherer
	closers     []func() error
}

// redeliverTimeout bounds the final redelivery run when the service closes.
const redeliverTimeout = 5 * time.Second

// newService wires the configured backends. extra projections receive every
// committed event after the built-in ones.
func newService(ctx context.Context, cfg config.Config, log *slog.Logger, extra ...es.Projection) (_ *service, err error) {
	reg := prometheus.NewRegistry()
	svc := &service{log: log, registry: reg}
	defer func() {
		if err != nil {
			_ = svc.Close()
		}
	}()

	metrics := promadapter.New(reg)

	// One connection serves the stream and the bucket.
	connectNats := nats.ReuseConnection(nats.ConnectURL(cfg.NATSURL, log))

	store, err := svc.eventStore(ctx, cfg, connectNats)
	if err != nil {
		return nil, fmt.Errorf("event store %s: %w", cfg.EventStore, err)
	}
	if r, ok := store.(es.GlobalReader); ok {
		svc.reader = r
	}

	kvStore, err := svc.kvStore(ctx, cfg, connectNats)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", cfg.ReadModel, err)
	}
	var rmOpts []readmodel.Option
	if cfg.EmailCacheSize > 0 {
		rmOpts = append(rmOpts, readmodel.WithEmailCache(cache.NewLRU[string](cache.LRUOpts{
			Size: cfg.EmailCacheSize,
			TTL:  cfg.EmailCacheTTL,
		})))
	}
	svc.readModel = readmodel.NewStore(kvStore, rmOpts...)
	svc.projections = append(svc.projections, readmodel.NewUserProjection(svc.readModel))

	if cfg.AMQPURL != "" {
		pub, err := amqp.Dial(amqp.Config{URL: cfg.AMQPURL, Queue: cfg.AMQPQueue, Log: log})
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, pub.Close)
		svc.projections = append(svc.projections, pub)
	}
	svc.projections = append(svc.projections, extra...)

	dispatcher, err := es.NewDispatcher(
		user.NewRegistry(),
		svc.projections,
		es.WithLog(log),
		es.WithMetrics(metrics.ES),
		es.WithMiddlewares(es.NewRecoverMiddleware(), es.NewLogMiddleware()),
	)
	if err != nil {
		return nil, err
	}

	dsOpts := []es.DispatchingStoreOption{es.WithLog(log), es.WithMetrics(metrics.ES)}
	if cfg.AsyncDispatch {
		dsOpts = append(dsOpts, es.WithAsyncDispatch(perkey.New[string]()))
	}
	svc.store = es.NewDispatchingStore(es.InstrumentStore(store, metrics.ES), dispatcher, dsOpts...)
	svc.closers = append(svc.closers, func() error {
		svc.store.Close()
		// The inner stores and the publisher close after this.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redeliverTimeout)
		defer cancel()
		return svc.redeliver(ctx)
	})

	svc.bus, err = app.NewBus(app.Deps{
		Log:       log,
		Store:     svc.store,
		ReadModel: svc.readModel,
		Hasher:    user.NewBcryptHasher(cfg.BcryptCost),
		Clock:     clock.System(),
		Metrics:   metrics.ES,
	}, metrics.Bus)
	if err != nil {
		return nil, err
	}

	// A memory read model starts empty; fill it from a durable log.
	if cfg.ReadModel == config.ReadModelMemory && cfg.EventStore != config.StoreMemory {
		if _, err := svc.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *service) eventStore(ctx context.Context, cfg config.Config, connect nats.Connector) (es.EventStore, error) {
	switch cfg.EventStore {
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath, s.log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	case config.StorePostgres:
		st, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN, Log: s.log})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { st.Close(); return nil })
		return st, nil
	case config.StoreNATS:
		st, err := nats.NewEventStore(ctx, nats.EventStoreConfig{
			Connect:    connect,
			Log:        s.log,
			StreamName: cfg.NATSStream,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	default:
		return es.NewInMemoryStore(), nil
	}
}

func (s *service) kvStore(ctx context.Context, cfg config.Config, connect nats.Connector) (kv.Store, error) {
	switch cfg.ReadModel {
	case config.ReadModelNATS:
		st, err := nats.NewKVStore(ctx, nats.KVConfig{Connect: connect, Bucket: cfg.NATSKVBucket})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	case config.ReadModelRedis:
		st, err := redis.Open(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	default:
		return kv.NewMemStore(), nil
	}
}

// rebuild replays the whole log into every projection.
func (s *service) rebuild(ctx context.Context) (es.RebuildResult, error) {
	if s.reader == nil {
		return es.RebuildResult{}, es.ErrGlobalReadNotSupported
	}
	return es.Rebuild(ctx, s.reader, user.NewRegistry(), s.projections...)
}

// redeliver retries the deliveries projections failed so far. What still
// fails stays queued and is logged.
func (s *service) redeliver(ctx context.Context) error {
	if s.store == nil || len(s.store.Pending()) == 0 {
		return nil
	}
	if _, err := s.store.Redeliver(ctx); err != nil {
		for _, f := range s.store.Pending() {
			s.log.Warn(
				"event not delivered",
				slog.String("projection", f.Projection),
				slog.String("event_type", f.Envelope.Type),
				slog.Uint64("seq", f.Envelope.Seq),
				slog.Int("attempts", f.Attempts),
				slog.Any("error", f.Err),
			)
		}
		return fmt.Errorf("redeliver: %w", err)
	}
	return nil
}

// exec runs one subcommand and then retries failed projection deliveries.
// A delivery failure never fails a command whose events are committed.
func (s *service) exec(ctx context.Context, cmd subcommand, args []string, stdout io.Writer) error {
	err := cmd(ctx, s, args, stdout)
	if rerr := s.redeliver(ctx); rerr != nil {
		s.log.Warn("projections behind", slog.Any("error", rerr))
	}
	return err
}

// Close releases resources in reverse order of acquisition.
func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
