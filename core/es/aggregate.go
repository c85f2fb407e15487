package es

import (
	"fmt"
)

// Applier is the interface for types that can apply events to update their state.
type Applier interface {
	Apply(event Event) error
}

// Aggregate is the contract the Repository needs from an event-sourced
// domain object. State changes only through Apply, which both the live path
// (RaiseAndApply) and the replay path (Replay) call.
//
// The typical lifecycle is:
//  1. Create a new aggregate through a domain factory or load one via Repository
//  2. Execute domain logic which calls RaiseAndApply to record events
//  3. Save via Repository which drains the recorded events with ReleaseEvents
type Aggregate interface {
	Applier
	// GetID returns the unique identifier of this aggregate instance.
	GetID() string
	// ReleaseEvents returns the recorded events and empties the buffer.
	ReleaseEvents() []Event
}

// BaseAggregate is an embeddable helper that tracks the identity and the
// events recorded since the aggregate was created or loaded.
type BaseAggregate struct {
	id       string
	recorded []Event
}

func (b *BaseAggregate) GetID() string   { return b.id }
func (b *BaseAggregate) SetID(id string) { b.id = id }

// Raise records an event. Call it through RaiseAndApply so the event is
// recorded only after it was applied.
func (b *BaseAggregate) Raise(event Event) { b.recorded = append(b.recorded, event) }

// Recorded returns a copy of the events recorded but not yet released.
func (b *BaseAggregate) Recorded() []Event {
	out := make([]Event, len(b.recorded))
	copy(out, b.recorded)
	return out
}

func (b *BaseAggregate) ReleaseEvents() []Event {
	out := b.recorded
	b.recorded = nil
	if out == nil {
		return []Event{}
	}
	return out
}

// === Helpers ===

type raiseApplier interface {
	Raise(event Event)
	Apply(event Event) error
}

// RaiseAndApply validates all events, then applies each one and records it.
// An event whose Apply fails is not recorded, and neither is any event after it.
func RaiseAndApply(a raiseApplier, events ...Event) (err error) {
	if len(events) == 0 {
		return
	}

	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err = ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %s: %w", e.EventType(), err)
			}
		}
	}

	for _, e := range events {
		if err = a.Apply(e); err != nil {
			return
		}
		a.Raise(e)
	}
	return
}

// Replay applies events in stream order without recording any of them.
func Replay(a Applier, events []Event) error {
	for i, e := range events {
		if err := a.Apply(e); err != nil {
			return fmt.Errorf("replay event %d: %w", i+1, err)
		}
	}
	return nil
}
