package es

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// MsgCtx provides context for handling a single committed event. It wraps
// the envelope together with the decoded event.
type MsgCtx struct {
	ctx    context.Context
	log    *slog.Logger
	ev     Envelope
	evt    Event
	replay bool
}

func NewMsgCtx(ctx context.Context, log *slog.Logger, env Envelope, evt Event) MsgCtx {
	if log == nil {
		log = slog.Default()
	}
	return MsgCtx{
		ctx: ctx,
		log: log.With(
			slog.Uint64("seq", env.Seq),
			slog.String("event_type", env.Type),
			slog.Group("agg", slog.String("type", env.AggregateType), slog.String("id", env.AggregateID)),
		),
		ev:  env,
		evt: evt,
	}
}

func (c MsgCtx) Log() *slog.Logger        { return c.log }
func (c MsgCtx) Context() context.Context { return c.ctx }
func (c MsgCtx) Event() Event             { return c.evt }

// Replay reports whether the event is delivered by a rebuild rather than
// right after its commit.
func (c MsgCtx) Replay() bool { return c.replay }

func (c MsgCtx) Seq() uint64           { return c.ev.Seq }
func (c MsgCtx) Envelope() Envelope    { return c.ev }
func (c MsgCtx) Version() Version      { return c.ev.Version }
func (c MsgCtx) AggregateID() string   { return c.ev.AggregateID }
func (c MsgCtx) AggregateType() string { return c.ev.AggregateType }
func (c MsgCtx) Type() string          { return c.ev.Type }
func (c MsgCtx) OccurredAt() time.Time { return c.ev.OccurredAt }

type (
	Handler interface {
		Handle(msgCtx MsgCtx) error
	}
	HandleFunc           func(ctx MsgCtx) error
	HandlerMiddleware    func(next Handler) Handler
	MiddlewareHandleFunc func(ctx MsgCtx, next Handler) error

	// Projection consumes committed events to build read models or to
	// publish them elsewhere. Delivery is at-least-once, so Handle must be
	// idempotent.
	Projection interface {
		Name() string
		Handler
	}
)

func applyMiddlewares(h Handler, middlewares []HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// === handler func ===

func (f HandleFunc) Handle(ctx MsgCtx) error { return f(ctx) }

type namedProjection struct {
	name string
	Handler
}

func (p namedProjection) Name() string { return p.name }

// NewProjection turns a handler into a named projection.
func NewProjection(name string, h Handler) Projection { return namedProjection{name: name, Handler: h} }

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(msgCtx MsgCtx) error { return m.mw(msgCtx, m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return &middleware{
			next: next,
			mw:   mw,
		}
	}
}

// === log ===

func NewLogMiddleware(attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(ctx MsgCtx, next Handler) (err error) {
		handleAt := time.Now()

		log := ctx.Log().With(attrs...)

		err = next.Handle(ctx)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}

		return err
	})
}

// === recover ===

// PanicError is returned by the recover middleware when a handler panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panicked: %v", e.Value) }

// NewRecoverMiddleware turns a panic in the wrapped handler into a *PanicError.
func NewRecoverMiddleware() HandlerMiddleware {
	return MiddlewareHandle(func(ctx MsgCtx, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return next.Handle(ctx)
	})
}
