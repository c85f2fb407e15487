package es

import (
	"context"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	// AppendResult carries the committed envelopes with their global
	// sequence numbers assigned.
	AppendResult struct {
		Envelopes []Envelope
		LastSeq   uint64
	}

	// EventStore stores and loads envelopes per aggregate stream.
	//
	// Append is a compare-and-append: if the stream version differs from
	// expected, it fails with a *ConcurrencyConflictError and writes nothing.
	// Otherwise all envelopes are written atomically and in order.
	EventStore interface {
		Append(ctx context.Context, aggType string, aggID string, expected Version, events []Envelope) (*AppendResult, error)
		// Load returns the full stream in version order, empty if it was never written.
		Load(ctx context.Context, aggType string, aggID string) ([]Envelope, error)
		// Version returns the number of events in the stream, 0 if it was never written.
		Version(ctx context.Context, aggType string, aggID string) (Version, error)
	}

	// GlobalReader reads committed envelopes across all streams in global
	// sequence order.
	GlobalReader interface {
		ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]Envelope, error)
	}
)

// IDGenerator is a function that generates unique IDs for events.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

// CheckAppend verifies the preconditions every EventStore implementation
// enforces before touching storage.
func CheckAppend(aggType, aggID string, expected Version, events []Envelope) error {
	if len(events) == 0 {
		return ErrStoreNoEvents
	}
	for i, e := range events {
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return fmt.Errorf(
				"%w: envelope %s is for %s/%s, stream is %s/%s",
				ErrAggregateMismatch, e.ID, e.AggregateType, e.AggregateID, aggType, aggID,
			)
		}
		if want := expected.Next(i + 1); e.Version != want {
			return fmt.Errorf("envelope %s: expected version %d, got %d", e.ID, want, e.Version)
		}
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EncodeEvents builds the envelopes for events appended after expected.
func EncodeEvents(newID IDGenerator, aggType, aggID string, expected Version, events ...Event) ([]Envelope, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	out := make([]Envelope, 0, len(events))
	for i, ev := range events {
		if ev.AggregateID() != aggID {
			return nil, fmt.Errorf(
				"%w: %s has aggregate id %q, stream is %q",
				ErrAggregateMismatch, ev.EventType(), ev.AggregateID(), aggID,
			)
		}
		env, err := Encode(newID(), aggType, expected.Next(i+1), ev)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func AppendEvents(
	ctx context.Context,
	store EventStore,
	aggType string,
	aggID string,
	expected Version,
	events ...Event,
) (*AppendResult, error) {
	envelopes, err := EncodeEvents(DefaultIDGenerator(), aggType, aggID, expected, events...)
	if err != nil {
		return nil, err
	}
	return store.Append(ctx, aggType, aggID, expected, envelopes)
}

// LoadEvents loads and decodes a stream. The returned version is the version
// of the last event, 0 for a stream that was never written.
func LoadEvents(
	ctx context.Context,
	store EventStore,
	decoder Decoder,
	aggType string,
	aggID string,
) ([]Event, Version, error) {
	envelopes, err := store.Load(ctx, aggType, aggID)
	if err != nil {
		return nil, 0, err
	}
	events := make([]Event, 0, len(envelopes))
	var v Version
	for _, e := range envelopes {
		if e.Version != v+1 {
			return nil, 0, fmt.Errorf("stream %s/%s: expected version %d, got %d", aggType, aggID, v+1, e.Version)
		}
		ev, err := decoder.Decode(e)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
		v = e.Version
	}
	return events, v, nil
}
