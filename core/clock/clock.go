// Package clock provides the time source for business decisions. Every
// instant handed out is UTC; the process refuses to start otherwise.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotUTC = errors.New("clock must be UTC")

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System returns the wall clock in UTC, truncated to microseconds so the
// instants survive every event store unchanged.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// Fixed is a settable clock for tests.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{t: t.UTC()} }

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t.UTC()
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// ValidateTimezone checks a configured timezone name. Only UTC is accepted.
func ValidateTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotUTC, err)
	}
	if loc.String() != "UTC" {
		return fmt.Errorf("%w: got %q", ErrNotUTC, name)
	}
	return nil
}

// Validate checks that c hands out UTC instants.
func Validate(c Clock) error {
	if loc := c.Now().Location(); loc != time.UTC {
		return fmt.Errorf("%w: got %s", ErrNotUTC, loc)
	}
	return nil
}
