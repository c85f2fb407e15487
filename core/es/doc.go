// Package es provides the event sourcing core the identity services are built on.
//
// # Overview
//
// State is stored as an ordered, append-only log of events per aggregate
// stream. An aggregate's state is whatever replaying its stream produces.
//
// # Core Components
//
// Aggregate: the domain object that encapsulates business rules. Behaviors
// call [RaiseAndApply], which applies each event through the aggregate's single
// Apply switch and only then records it. Loading calls [Replay] through the
// same Apply switch without recording anything. Embed [BaseAggregate] to get
// the recorded-events buffer and [BaseAggregate.ReleaseEvents].
//
//	type User struct {
//	    es.BaseAggregate
//	    email string
//	}
//
//	func (u *User) ChangeEmail(email string, now time.Time) error {
//	    return es.RaiseAndApply(u, &EmailChanged{UserID: u.GetID(), Email: email, At: now})
//	}
//
// EventStore: the persistence port. [EventStore.Append] is a compare-and-append
// on the stream version: it either writes every envelope or, on a version
// mismatch, fails with a [*ConcurrencyConflictError] and writes nothing.
// [NewInMemoryStore] serves tests; adapters provide SQLite, PostgreSQL and
// NATS JetStream implementations, all held to the storetest suite.
//
// Repository: [NewRepository] loads aggregates of one type by replaying their
// stream and saves recorded events with an expected version:
//
//	repo := es.NewRepository(store, registry, "user", user.Reconstitute)
//	u, v, err := repo.Load(ctx, id)
//	_ = u.Login(password, now)
//	_, err = repo.Save(ctx, u, v)
//
// Dispatch: [DispatchingStore] decorates a store so that committed envelopes
// are handed to a [Dispatcher], which fans them out to projections. Delivery
// happens after the commit, in an isolated failure boundary; failures are
// queued for [DispatchingStore.Redeliver] and never reach the appender.
// [Rebuild] replays the whole log into projections.
//
// # Event Registration
//
// Events must be registered with an [EventRegistry] before they can be decoded:
//
//	registry := es.NewRegistry()
//	es.RegisterEvents(registry,
//	    es.EventOf[UserRegistered](),
//	    es.EventOf[UserLoggedIn](),
//	)
//
// Decoding an envelope whose type is not registered fails with
// [ErrUnknownEventType], which callers must treat as fatal.
package es
