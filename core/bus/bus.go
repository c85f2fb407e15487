// Package bus routes commands and queries to their handlers.
//
// Commands (write intents) and queries (read intents) are two disjoint
// families. Handlers are registered once at startup through a static list
// of registrations; a bus never changes after New returns.
//
//	b, err := bus.New(bus.Options{Log: log},
//	    bus.HandleCommand(registerUser.Handle),
//	    bus.HandleQuery(findAuthData.Handle),
//	)
//	err = b.Dispatch(ctx, app.RegisterUser{...})
//	data, err := bus.Ask[*app.AuthData](ctx, b, app.FindUserAuthDataByEmail{...})
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/codewandler/identity-go/core/es"
)

var (
	ErrNoHandler         = errors.New("no handler registered")
	ErrDuplicateHandler  = errors.New("handler already registered")
	ErrUnexpectedMessage = errors.New("unexpected message type")
	ErrResultType        = errors.New("unexpected result type")
)

type (
	// Command is a write intent. The name is read at registration from a
	// fresh instance, so pointer implementations work too.
	Command interface{ CommandName() string }

	// Query is a read intent answered with a result.
	Query interface{ QueryName() string }

	commandFunc func(ctx context.Context, cmd Command) error
	queryFunc   func(ctx context.Context, q Query) (any, error)

	// Registration adds one handler to a bus under construction. Create
	// these with HandleCommand and HandleQuery.
	Registration struct {
		register func(r *registry) error
	}

	registry struct {
		commands map[string]commandFunc
		queries  map[string]queryFunc
	}
)

const (
	kindCommand = "command"
	kindQuery   = "query"

	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// HandleCommand registers fn for commands of type C.
func HandleCommand[C Command](fn func(ctx context.Context, cmd C) error) Registration {
	return Registration{register: func(r *registry) error {
		name := instance[C]().CommandName()
		if _, dup := r.commands[name]; dup {
			return fmt.Errorf("%w: command %s", ErrDuplicateHandler, name)
		}
		r.commands[name] = func(ctx context.Context, cmd Command) error {
			c, ok := cmd.(C)
			if !ok {
				return fmt.Errorf("%w: command %s carries %T", ErrUnexpectedMessage, name, cmd)
			}
			return fn(ctx, c)
		}
		return nil
	}}
}

// HandleQuery registers fn for queries of type Q answering with R.
func HandleQuery[Q Query, R any](fn func(ctx context.Context, q Q) (R, error)) Registration {
	return Registration{register: func(r *registry) error {
		name := instance[Q]().QueryName()
		if _, dup := r.queries[name]; dup {
			return fmt.Errorf("%w: query %s", ErrDuplicateHandler, name)
		}
		r.queries[name] = func(ctx context.Context, q Query) (any, error) {
			qq, ok := q.(Q)
			if !ok {
				return nil, fmt.Errorf("%w: query %s carries %T", ErrUnexpectedMessage, name, q)
			}
			return fn(ctx, qq)
		}
		return nil
	}}
}

// instance returns the zero T, or a pointer to a zero value when T is a
// pointer type, so name methods can be called on it.
func instance[T any]() T {
	var zero T
	if t := reflect.TypeFor[T](); t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return zero
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

type Options struct {
	Log     *slog.Logger
	Metrics Metrics
	// Classify maps a handler error to an outcome label. Errors it reports
	// as OutcomeRejected are logged at info level instead of error level.
	// Defaults to OutcomeError for every non-nil error.
	Classify func(err error) string
}

// Bus dispatches commands and queries to the handlers registered at New.
type Bus struct {
	log      *slog.Logger
	metrics  Metrics
	classify func(err error) string
	commands map[string]commandFunc
	queries  map[string]queryFunc
}

func New(opts Options, regs ...Registration) (*Bus, error) {
	r := &registry{
		commands: map[string]commandFunc{},
		queries:  map[string]queryFunc{},
	}
	for _, reg := range regs {
		if reg.register == nil {
			return nil, errors.New("bus: empty registration")
		}
		if err := reg.register(r); err != nil {
			return nil, err
		}
	}

	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.Classify == nil {
		opts.Classify = func(error) string { return OutcomeError }
	}

	return &Bus{
		log:      opts.Log.With(slog.String("component", "bus")),
		metrics:  opts.Metrics,
		classify: opts.Classify,
		commands: r.commands,
		queries:  r.queries,
	}, nil
}

// Commands returns the registered command names, sorted.
func (b *Bus) Commands() []string { return sortedKeys(b.commands) }

// Queries returns the registered query names, sorted.
func (b *Bus) Queries() []string { return sortedKeys(b.queries) }

func (b *Bus) Dispatch(ctx context.Context, cmd Command) (err error) {
	if isNil(cmd) {
		return fmt.Errorf("%w: nil command", ErrUnexpectedMessage)
	}
	name := cmd.CommandName()
	h, ok := b.commands[name]
	if !ok {
		return fmt.Errorf("%w: command %s", ErrNoHandler, name)
	}
	defer b.observe(kindCommand, name, time.Now(), &err)
	return h(ctx, cmd)
}

// Ask runs q and returns its untyped result. Prefer the generic Ask.
func (b *Bus) Ask(ctx context.Context, q Query) (res any, err error) {
	if isNil(q) {
		return nil, fmt.Errorf("%w: nil query", ErrUnexpectedMessage)
	}
	name := q.QueryName()
	h, ok := b.queries[name]
	if !ok {
		return nil, fmt.Errorf("%w: query %s", ErrNoHandler, name)
	}
	defer b.observe(kindQuery, name, time.Now(), &err)
	return h(ctx, q)
}

// Ask runs q on b and asserts the result type.
func Ask[R any](ctx context.Context, b *Bus, q Query) (R, error) {
	var zero R
	res, err := b.Ask(ctx, q)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	r, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: query %s returned %T, want %T", ErrResultType, q.QueryName(), res, zero)
	}
	return r, nil
}

func (b *Bus) observe(kind, name string, start time.Time, errp *error) {
	var (
		err     = *errp
		outcome = OutcomeOK
		took    = time.Since(start)
	)
	if err != nil {
		outcome = b.classify(err)
	}
	b.metrics.Handled(kind, name, outcome, took)

	log := b.log.With(slog.String("kind", kind), slog.String("name", name), slog.Duration("duration", took))
	switch {
	case err == nil:
		log.Debug("handled")
	case errors.Is(err, es.ErrUnknownEventType):
		log.Error("event stream integrity violation", slog.Any("error", err))
	case outcome == OutcomeRejected:
		log.Info("rejected", slog.Any("error", err))
	default:
		log.Error("failed", slog.Any("error", err))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
