package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	ErrUnknownProjection       = errors.New("unknown projection")
	ErrGlobalReadNotSupported  = errors.New("store does not support global reads")
	errDuplicateProjectionName = errors.New("duplicate projection name")
)

// DeliveryFailure records one committed envelope a projection failed to handle.
type DeliveryFailure struct {
	Projection string
	Envelope   Envelope
	Err        error
	Attempts   int
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("projection %s: event %s (seq=%d): %v", f.Projection, f.Envelope.Type, f.Envelope.Seq, f.Err)
}

func (f DeliveryFailure) Unwrap() error { return f.Err }

type dispatchTarget struct {
	name string
	h    Handler
}

// Dispatcher decodes committed envelopes once and fans each one out to every
// registered projection. Every delivery runs in its own failure boundary: a
// failing or panicking projection never affects the others.
type Dispatcher struct {
	log     *slog.Logger
	decoder Decoder
	metrics ESMetrics
	targets []dispatchTarget
	byName  map[string]Handler
}

func NewDispatcher(decoder Decoder, projections []Projection, opts ...DispatcherOption) (*Dispatcher, error) {
	options := newDispatcherOpts(opts...)
	if options.log == nil {
		options.log = slog.Default()
	}
	d := &Dispatcher{
		log:     options.log.With(slog.String("component", "dispatcher")),
		decoder: decoder,
		metrics: options.metrics,
		byName:  map[string]Handler{},
	}
	for _, p := range projections {
		name := p.Name()
		if _, dup := d.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", errDuplicateProjectionName, name)
		}
		h := applyMiddlewares(p, options.middlewares)
		d.byName[name] = h
		d.targets = append(d.targets, dispatchTarget{name: name, h: h})
	}
	return d, nil
}

// Projections returns the projection names in registration order.
func (d *Dispatcher) Projections() []string {
	out := make([]string, 0, len(d.targets))
	for _, t := range d.targets {
		out = append(out, t.name)
	}
	return out
}

// Dispatch delivers envelopes in order to all projections and returns the
// deliveries that failed. It never panics and never returns an error of its own.
func (d *Dispatcher) Dispatch(ctx context.Context, envelopes []Envelope) []DeliveryFailure {
	var failures []DeliveryFailure
	for _, env := range envelopes {
		evt, err := d.decoder.Decode(env)
		if err != nil {
			d.log.Error("decode failed", slog.String("event_type", env.Type), slog.Uint64("seq", env.Seq), slog.Any("error", err))
			for _, t := range d.targets {
				failures = append(failures, DeliveryFailure{Projection: t.name, Envelope: env, Err: err, Attempts: 1})
			}
			continue
		}
		for _, t := range d.targets {
			if err := d.deliver(ctx, t.name, t.h, env, evt); err != nil {
				failures = append(failures, DeliveryFailure{Projection: t.name, Envelope: env, Err: err, Attempts: 1})
			}
		}
	}
	return failures
}

// DispatchTo delivers a single envelope to the named projection.
func (d *Dispatcher) DispatchTo(ctx context.Context, projection string, env Envelope) error {
	h, ok := d.byName[projection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProjection, projection)
	}
	evt, err := d.decoder.Decode(env)
	if err != nil {
		return err
	}
	return d.deliver(ctx, projection, h, env, evt)
}

func (d *Dispatcher) deliver(ctx context.Context, name string, h Handler, env Envelope, evt Event) (err error) {
	t := d.metrics.ProjectionEventDuration(name, env.Type)
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		t.ObserveDuration()
		d.metrics.ProjectionEventProcessed(name, env.Type, err == nil)
	}()
	msgCtx := NewMsgCtx(ctx, d.log.With(slog.String("projection", name)), env, evt)
	return h.Handle(msgCtx)
}

// === dispatching store ===

// DispatchingStore decorates an EventStore: once the inner Append committed,
// the committed envelopes are handed to the Dispatcher. Delivery failures are
// logged, counted and queued for Redeliver; they are never returned to the
// appender, whose result depends on the commit alone.
type DispatchingStore struct {
	inner     EventStore
	d         *Dispatcher
	log       *slog.Logger
	metrics   ESMetrics
	scheduler interface {
		Submit(ctx context.Context, key string, fn func()) error
	}
	limit int

	mu      sync.Mutex
	queue   []DeliveryFailure
	pending sync.WaitGroup
}

func NewDispatchingStore(inner EventStore, d *Dispatcher, opts ...DispatchingStoreOption) *DispatchingStore {
	options := newDispatchingStoreOpts(opts...)
	if options.log == nil {
		options.log = slog.Default()
	}
	s := &DispatchingStore{
		inner:   inner,
		d:       d,
		log:     options.log.With(slog.String("component", "dispatching_store")),
		metrics: options.metrics,
		limit:   options.redeliveryLimit,
	}
	if options.scheduler != nil {
		s.scheduler = options.scheduler
	}
	return s
}

func (s *DispatchingStore) Load(ctx context.Context, aggType, aggID string) ([]Envelope, error) {
	return s.inner.Load(ctx, aggType, aggID)
}

func (s *DispatchingStore) Version(ctx context.Context, aggType, aggID string) (Version, error) {
	return s.inner.Version(ctx, aggType, aggID)
}

func (s *DispatchingStore) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]Envelope, error) {
	r, ok := s.inner.(GlobalReader)
	if !ok {
		return nil, ErrGlobalReadNotSupported
	}
	return r.ReadAll(ctx, afterSeq, limit)
}

func (s *DispatchingStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected Version,
	events []Envelope,
) (*AppendResult, error) {
	res, err := s.inner.Append(ctx, aggType, aggID, expected, events)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, aggType+"/"+aggID, res.Envelopes)
	return res, nil
}

func (s *DispatchingStore) notify(ctx context.Context, key string, envelopes []Envelope) {
	// The commit is done; cancelling the request must not cancel delivery.
	ctx = context.WithoutCancel(ctx)

	if s.scheduler == nil {
		s.deliver(ctx, envelopes)
		return
	}

	s.pending.Add(1)
	err := s.scheduler.Submit(ctx, key, func() {
		defer s.pending.Done()
		s.deliver(ctx, envelopes)
	})
	if err != nil {
		s.pending.Done()
		s.log.Warn("async dispatch unavailable, delivering inline", slog.String("stream", key), slog.Any("error", err))
		s.deliver(ctx, envelopes)
	}
}

func (s *DispatchingStore) deliver(ctx context.Context, envelopes []Envelope) {
	for _, f := range s.d.Dispatch(ctx, envelopes) {
		s.log.Error(
			"projection failed, queued for redelivery",
			slog.String("projection", f.Projection),
			slog.String("event_type", f.Envelope.Type),
			slog.Uint64("seq", f.Envelope.Seq),
			slog.Any("error", f.Err),
		)
		s.enqueue(f)
	}
}

func (s *DispatchingStore) enqueue(f DeliveryFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.queue) >= s.limit {
		dropped := s.queue[0]
		s.queue = s.queue[1:]
		s.log.Warn(
			"redelivery queue full, dropping oldest failure",
			slog.String("projection", dropped.Projection),
			slog.Uint64("seq", dropped.Envelope.Seq),
		)
	}
	s.queue = append(s.queue, f)
	s.metrics.RedeliveryQueueSize(len(s.queue))
}

// Pending returns a copy of the queued delivery failures.
func (s *DispatchingStore) Pending() []DeliveryFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeliveryFailure, len(s.queue))
	copy(out, s.queue)
	return out
}

// Redeliver retries every queued failure once. Failures that fail again are
// queued again; the returned error joins them.
func (s *DispatchingStore) Redeliver(ctx context.Context) (delivered int, err error) {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	var errs []error
	for _, f := range batch {
		if ctx.Err() != nil {
			s.enqueue(f)
			continue
		}
		if derr := s.d.DispatchTo(ctx, f.Projection, f.Envelope); derr != nil {
			f.Err = derr
			f.Attempts++
			errs = append(errs, f)
			s.enqueue(f)
			continue
		}
		delivered++
	}

	s.mu.Lock()
	s.metrics.RedeliveryQueueSize(len(s.queue))
	s.mu.Unlock()

	if len(batch) > 0 {
		s.log.Info("redelivery done", slog.Int("delivered", delivered), slog.Int("failed", len(errs)))
	}
	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}
	return delivered, errors.Join(errs...)
}

// Close waits until all asynchronous deliveries handed out so far are done.
func (s *DispatchingStore) Close() { s.pending.Wait() }

var (
	_ EventStore   = (*DispatchingStore)(nil)
	_ GlobalReader = (*DispatchingStore)(nil)
)
