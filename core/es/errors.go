package es

import (
	"errors"
	"fmt"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrStoreNoEvents       = errors.New("no events to store")
	ErrAggregateMismatch   = errors.New("event does not belong to aggregate stream")
)

// ConcurrencyConflictError is returned by EventStore.Append when the stream
// version observed at write time differs from the expected one. Nothing was
// written when this error is returned.
type ConcurrencyConflictError struct {
	AggregateType string
	AggregateID   string
	Expected      Version
	Actual        Version
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf(
		"%s: expected version %d, got %d (agg_type=%s agg_id=%s)",
		ErrConcurrencyConflict,
		e.Expected,
		e.Actual,
		e.AggregateType,
		e.AggregateID,
	)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// NewConcurrencyConflict builds the conflict error for a stream.
func NewConcurrencyConflict(aggType, aggID string, expected, actual Version) error {
	return &ConcurrencyConflictError{
		AggregateType: aggType,
		AggregateID:   aggID,
		Expected:      expected,
		Actual:        actual,
	}
}

// UnknownEventTypeError signals an event the decoder or an aggregate cannot
// handle. It means corrupted or mismatched stream data and must abort the
// operation.
type UnknownEventTypeError struct {
	Type string
	By   string
}

func (e *UnknownEventTypeError) Error() string {
	if e.By != "" {
		return fmt.Sprintf("%s: %s (by %s)", ErrUnknownEventType, e.Type, e.By)
	}
	return fmt.Sprintf("%s: %s", ErrUnknownEventType, e.Type)
}

func (e *UnknownEventTypeError) Is(target error) bool { return target == ErrUnknownEventType }

// UnknownEvent is a convenience for the default branch of an Apply switch.
func UnknownEvent(by string, event any) error {
	t := fmt.Sprintf("%T", event)
	if ev, ok := event.(Event); ok && ev != nil {
		t = ev.EventType()
	}
	return &UnknownEventTypeError{Type: t, By: by}
}
