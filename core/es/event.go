package es

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event is an immutable fact about one aggregate. EventType is the persisted
// type tag and must stay stable once events of that type have been written.
type Event interface {
	EventType() string
	AggregateID() string
	OccurredAt() time.Time
}

// EventRegistry maps event type names to constructors so we can decode persisted events.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() Event
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() Event{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

// Types returns the registered event type names.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.news))
	for t := range r.news {
		out = append(out, t)
	}
	return out
}

func (r *EventRegistry) Decode(env Envelope) (Event, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownEventTypeError{Type: env.Type, By: "registry"}
	}
	ev := ctor()
	if env.Data != nil {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return ev, nil
}

type Registrar interface {
	Register(eventType string, ctor func() Event)
}

// EventOf returns a constructor that yields a fresh *T per call, so decoding
// always unmarshals into a new pointer.
func EventOf[T any, PT interface {
	*T
	Event
}]() func() Event {
	return func() Event { return PT(new(T)) }
}

// RegisterEvents registers event constructors. For each constructor a sample
// instance is created once to read its type tag.
func RegisterEvents(r Registrar, ctors ...func() Event) {
	for _, ctor := range ctors {
		sample := ctor()
		r.Register(sample.EventType(), ctor)
	}
}

var _ Decoder = (*EventRegistry)(nil)
