// Package app holds the identity use cases: commands, queries and the
// handlers that orchestrate the user aggregate, the event store and the
// read model.
package app

import (
	"log/slog"

	"github.com/codewandler/identity-go/core/bus"
	"github.com/codewandler/identity-go/core/clock"
	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/identity/user"
)

// Deps are the ports every handler is built from.
type Deps struct {
	Log       *slog.Logger
	Store     es.EventStore
	ReadModel UserReadModel
	Hasher    user.PasswordHasher
	Clock     clock.Clock
	Metrics   es.ESMetrics
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Hasher == nil {
		d.Hasher = user.NewBcryptHasher(0)
	}
	if d.Metrics == nil {
		d.Metrics = es.NopESMetrics()
	}
	return d
}

func newUserRepository(d Deps) *es.Repository[*user.User] {
	return es.NewRepository(
		d.Store,
		user.NewRegistry(),
		user.AggregateType,
		user.Reconstitute,
		es.WithLog(d.Log),
		es.WithMetrics(d.Metrics),
	)
}

// Registrations returns the bus registrations of every identity handler.
func Registrations(deps Deps) []bus.Registration {
	return []bus.Registration{
		bus.HandleCommand(NewRegisterUserHandler(deps).Handle),
		bus.HandleCommand(NewLoginHandler(deps).Handle),
		bus.HandleQuery(NewFindUserAuthDataByEmailHandler(deps).Handle),
	}
}

// NewBus builds a bus serving the identity use cases. It refuses a clock
// that does not report UTC.
func NewBus(deps Deps, metrics bus.Metrics) (*bus.Bus, error) {
	deps = deps.withDefaults()
	if err := clock.Validate(deps.Clock); err != nil {
		return nil, err
	}
	return bus.New(
		bus.Options{Log: deps.Log, Metrics: metrics, Classify: Classify},
		Registrations(deps)...,
	)
}
