package es

import (
	"log/slog"

	"github.com/codewandler/identity-go/core/perkey"
)

type (
	valueOption[T any] struct{ v T }

	LogOption             valueOption[*slog.Logger]
	ESMetricsOption       valueOption[ESMetrics]
	IDGeneratorOption     valueOption[IDGenerator]
	AsyncDispatchOption   valueOption[*perkey.Scheduler[string]]
	RedeliveryLimitOption valueOption[int]
	MiddlewaresOption     struct{ mws []HandlerMiddleware }

	repoOpts struct {
		log         *slog.Logger
		metrics     ESMetrics
		idGenerator IDGenerator
	}

	dispatcherOpts struct {
		log         *slog.Logger
		metrics     ESMetrics
		middlewares []HandlerMiddleware
	}

	dispatchingStoreOpts struct {
		log             *slog.Logger
		metrics         ESMetrics
		scheduler       *perkey.Scheduler[string]
		redeliveryLimit int
	}

	RepositoryOption       interface{ applyToRepository(*repoOpts) }
	DispatcherOption       interface{ applyToDispatcher(*dispatcherOpts) }
	DispatchingStoreOption interface {
		applyToDispatchingStore(*dispatchingStoreOpts)
	}
)

func WithLog(l *slog.Logger) LogOption { return LogOption{v: l} }

// WithMetrics sets the metrics implementation for ES components.
func WithMetrics(m ESMetrics) ESMetricsOption { return ESMetricsOption{v: m} }

// WithIDGenerator sets a custom ID generator for event envelope IDs.
func WithIDGenerator(gen IDGenerator) IDGeneratorOption { return IDGeneratorOption{v: gen} }

// WithAsyncDispatch hands delivery to s, keyed by stream. The scheduler is
// owned by the caller; DispatchingStore.Close waits for pending deliveries
// but does not close it.
func WithAsyncDispatch(s *perkey.Scheduler[string]) AsyncDispatchOption {
	return AsyncDispatchOption{v: s}
}

// WithRedeliveryLimit bounds the redelivery queue (default: 1024). When the
// queue is full the oldest failure is dropped and left to a rebuild.
func WithRedeliveryLimit(n int) RedeliveryLimitOption { return RedeliveryLimitOption{v: n} }

func WithMiddlewares(mws ...HandlerMiddleware) MiddlewaresOption {
	return MiddlewaresOption{mws: mws}
}

func (o LogOption) applyToRepository(r *repoOpts)                    { r.log = o.v }
func (o LogOption) applyToDispatcher(d *dispatcherOpts)              { d.log = o.v }
func (o LogOption) applyToDispatchingStore(d *dispatchingStoreOpts)  { d.log = o.v }
func (o ESMetricsOption) applyToRepository(r *repoOpts)              { r.metrics = o.v }
func (o ESMetricsOption) applyToDispatcher(d *dispatcherOpts)        { d.metrics = o.v }
func (o ESMetricsOption) applyToDispatchingStore(d *dispatchingStoreOpts) {
	d.metrics = o.v
}
func (o IDGeneratorOption) applyToRepository(r *repoOpts) { r.idGenerator = o.v }
func (o AsyncDispatchOption) applyToDispatchingStore(d *dispatchingStoreOpts) {
	d.scheduler = o.v
}
func (o RedeliveryLimitOption) applyToDispatchingStore(d *dispatchingStoreOpts) {
	d.redeliveryLimit = o.v
}
func (o MiddlewaresOption) applyToDispatcher(d *dispatcherOpts) {
	d.middlewares = append(d.middlewares, o.mws...)
}

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		log:         slog.Default(),
		metrics:     NopESMetrics(),
		idGenerator: DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}

func newDispatcherOpts(opts ...DispatcherOption) dispatcherOpts {
	options := dispatcherOpts{
		log:     slog.Default(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToDispatcher(&options)
	}
	return options
}

func newDispatchingStoreOpts(opts ...DispatchingStoreOption) dispatchingStoreOpts {
	options := dispatchingStoreOpts{
		log:             slog.Default(),
		metrics:         NopESMetrics(),
		redeliveryLimit: 1024,
	}
	for _, opt := range opts {
		opt.applyToDispatchingStore(&options)
	}
	return options
}
