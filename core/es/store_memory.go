package es

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     uint64
	streams map[streamID][]Envelope
	all     []Envelope
}

type streamID struct{ aggType, aggID string }

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[streamID][]Envelope{},
	}
}

func (s *InMemoryStore) Load(_ context.Context, aggType, aggID string) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[streamID{aggType, aggID}]
	out := make([]Envelope, len(events))
	copy(out, events)
	return out, nil
}

func (s *InMemoryStore) Version(_ context.Context, aggType, aggID string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Version(len(s.streams[streamID{aggType, aggID}])), nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType string,
	aggID string,
	expected Version,
	events []Envelope,
) (*AppendResult, error) {
	if err := CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk         = streamID{aggType, aggID}
		curStream  = s.streams[sk]
		curVersion = Version(len(curStream))
	)
	if curVersion != expected {
		return nil, NewConcurrencyConflict(aggType, aggID, expected, curVersion)
	}

	committed := make([]Envelope, 0, len(events))
	for _, e := range events {
		s.seq++
		e.Seq = s.seq
		committed = append(committed, e)
	}
	s.streams[sk] = append(curStream, committed...)
	s.all = append(s.all, committed...)

	s.log.Debug(
		"append",
		slog.Uint64("last_seq", s.seq),
		slog.Int("num_events", len(committed)),
		expected.Next(len(committed)).SlogAttr(),
	)

	out := make([]Envelope, len(committed))
	copy(out, committed)
	return &AppendResult{Envelopes: out, LastSeq: s.seq}, nil
}

func (s *InMemoryStore) ReadAll(_ context.Context, afterSeq uint64, limit int) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Envelope, 0)
	// seq starts at 1 and has no gaps, so the envelope with seq n is at n-1.
	for i := int(afterSeq); i < len(s.all); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.all[i])
	}
	return out, nil
}

var (
	_ EventStore   = (*InMemoryStore)(nil)
	_ GlobalReader = (*InMemoryStore)(nil)
)
