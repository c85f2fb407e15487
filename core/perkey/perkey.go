// Package perkey provides a scheduler that serializes work per key
// while allowing work for different keys to execute concurrently.
//
// Keys are hashed onto a fixed set of lanes, so the number of goroutines is
// bounded regardless of how many distinct keys are seen. Two keys that share
// a lane are serialized with each other too, which keeps the per-key ordering
// guarantee intact.
//
// Typical use-case: delivering committed events of one aggregate stream to
// projections in order, while different streams proceed in parallel.
package perkey

import (
	"context"
	"hash/maphash"
	"sync"
)

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
	lanes      int
}

// WithBufferSize sets the task buffer size per lane (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// WithLanes sets the number of lanes, i.e. the maximum parallelism (default: 16).
func WithLanes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.lanes = n
		}
	}
}

// Scheduler runs tasks such that for any given key K, tasks are executed
// sequentially in submission order.
type Scheduler[K comparable] struct {
	seed     maphash.Seed
	mu       sync.RWMutex
	lanes    []chan *task
	closed   bool
	inflight sync.WaitGroup // submitters between the closed check and the send
	running  sync.WaitGroup // lane goroutines
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a new Scheduler and starts its lanes.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64, lanes: 16}
	for _, opt := range opts {
		opt(cfg)
	}
	s := &Scheduler[K]{
		seed:  maphash.MakeSeed(),
		lanes: make([]chan *task, cfg.lanes),
	}
	for i := range s.lanes {
		s.lanes[i] = make(chan *task, cfg.bufferSize)
		s.running.Add(1)
		go s.runLane(s.lanes[i])
	}
	return s
}

// Do schedules fn to run for the given key.
// It blocks until fn finishes and returns its error.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but respects context cancellation.
// If the context is cancelled while waiting to enqueue or waiting for
// completion, it returns the context error. A task that was already
// enqueued still executes.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	t := &task{fn: fn, done: make(chan error, 1)}
	if err := s.enqueue(ctx, key, t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues fn for the given key and returns without waiting for it to
// run. Tasks submitted for one key from one goroutine run in submission order.
func (s *Scheduler[K]) Submit(ctx context.Context, key K, fn func()) error {
	return s.enqueue(ctx, key, &task{fn: func() error { fn(); return nil }})
}

func (s *Scheduler[K]) enqueue(ctx context.Context, key K, t *task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrSchedulerClosed
	}
	s.inflight.Add(1)
	lane := s.lanes[maphash.Comparable(s.seed, key)%uint64(len(s.lanes))]
	s.mu.RUnlock()
	defer s.inflight.Done()

	select {
	case lane <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new tasks, lets every queued task run and returns
// once all lanes are idle.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// No send can happen after this point, so closing the lanes is safe.
	s.inflight.Wait()
	for _, lane := range s.lanes {
		close(lane)
	}
	s.running.Wait()
}

func (s *Scheduler[K]) runLane(tasks <-chan *task) {
	defer s.running.Done()
	for t := range tasks {
		err := t.fn()
		if t.done != nil {
			t.done <- err
		}
	}
}

// ----- Errors -----

// ErrSchedulerClosed is returned when a task is scheduled on a closed scheduler.
var ErrSchedulerClosed = &SchedulerError{"scheduler is closed"}

// SchedulerError is a simple error implementation.
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string { return e.msg }
