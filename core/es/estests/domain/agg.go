// Package domain holds a small counter aggregate the es tests run against.
package domain

import (
	"fmt"
	"time"

	"github.com/codewandler/identity-go/core/es"
)

const AggType = "test_counter"

type (
	Counter struct {
		es.BaseAggregate

		value         uint16
		numIncrements int
		numResets     int
	}

	Incremented struct {
		ID  string    `json:"id"`
		Inc uint8     `json:"inc"`
		At  time.Time `json:"at"`
	}

	Reset struct {
		ID string    `json:"id"`
		At time.Time `json:"at"`
	}

	// Broken always fails to apply.
	Broken struct {
		ID string    `json:"id"`
		At time.Time `json:"at"`
	}
)

func (e *Incremented) EventType() string     { return "test.incremented" }
func (e *Incremented) AggregateID() string   { return e.ID }
func (e *Incremented) OccurredAt() time.Time { return e.At }
func (e *Reset) EventType() string           { return "test.reset" }
func (e *Reset) AggregateID() string         { return e.ID }
func (e *Reset) OccurredAt() time.Time       { return e.At }
func (e *Broken) EventType() string          { return "test.broken" }
func (e *Broken) AggregateID() string        { return e.ID }
func (e *Broken) OccurredAt() time.Time      { return e.At }

func (e *Incremented) Validate() error {
	if e.Inc == 0 {
		return fmt.Errorf("inc must be positive")
	}
	return nil
}

// Register adds the counter events to r. Broken is left out on purpose so
// decoding it fails.
func Register(r es.Registrar) {
	es.RegisterEvents(r, es.EventOf[Incremented](), es.EventOf[Reset]())
}

func NewRegistry() *es.EventRegistry {
	r := es.NewRegistry()
	Register(r)
	return r
}

func NewCounter(id string) *Counter {
	c := &Counter{}
	c.SetID(id)
	return c
}

func Reconstitute(events []es.Event) (*Counter, error) {
	c := &Counter{}
	if err := es.Replay(c, events); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Counter) Value() uint16      { return c.value }
func (c *Counter) NumIncrements() int { return c.numIncrements }
func (c *Counter) NumResets() int     { return c.numResets }

func (c *Counter) Apply(event es.Event) error {
	switch e := event.(type) {
	case *Incremented:
		if c.value+uint16(e.Inc) > 24 {
			return fmt.Errorf("counter cannot exceed 24")
		}
		c.SetID(e.ID)
		c.value += uint16(e.Inc)
		c.numIncrements++
		return nil
	case *Reset:
		c.SetID(e.ID)
		c.value = 0
		c.numResets++
		return nil
	}
	return es.UnknownEvent("counter", event)
}

// === Commands ===

func (c *Counter) IncBy(v uint8, now time.Time) error {
	return es.RaiseAndApply(c, &Incremented{ID: c.GetID(), Inc: v, At: now})
}

func (c *Counter) Reset(now time.Time) error {
	return es.RaiseAndApply(c, &Reset{ID: c.GetID(), At: now})
}

func (c *Counter) Break(now time.Time) error {
	return es.RaiseAndApply(c, &Broken{ID: c.GetID(), At: now})
}
