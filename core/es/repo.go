package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ReconstituteFunc rebuilds an aggregate from its decoded stream.
type ReconstituteFunc[T Aggregate] func(events []Event) (T, error)

// Repository rehydrates aggregates of one type and persists their recorded
// events with optimistic concurrency.
type Repository[T Aggregate] struct {
	log          *slog.Logger
	store        EventStore
	decoder      Decoder
	aggType      string
	reconstitute ReconstituteFunc[T]
	metrics      ESMetrics
	newID        IDGenerator
}

func NewRepository[T Aggregate](
	store EventStore,
	decoder Decoder,
	aggType string,
	reconstitute ReconstituteFunc[T],
	opts ...RepositoryOption,
) *Repository[T] {
	options := newRepoOpts(opts...)
	if options.log == nil {
		options.log = slog.Default()
	}
	return &Repository[T]{
		log:          options.log.With(slog.String("repo", aggType)),
		store:        store,
		decoder:      decoder,
		aggType:      aggType,
		reconstitute: reconstitute,
		metrics:      options.metrics,
		newID:        options.idGenerator,
	}
}

func (r *Repository[T]) AggType() string { return r.aggType }

// Version returns the current stream version of the aggregate.
func (r *Repository[T]) Version(ctx context.Context, id string) (Version, error) {
	return r.store.Version(ctx, r.aggType, id)
}

// Load reads the stream version first. A stream at version 0 yields
// ErrAggregateNotFound and nothing is reconstructed.
func (r *Repository[T]) Load(ctx context.Context, id string) (agg T, v Version, err error) {
	if id == "" {
		return agg, 0, errors.New("aggregate id is empty")
	}
	defer r.metrics.RepoLoadDuration(r.aggType).ObserveDuration()

	log := r.log.With(slog.Group("agg", slog.String("type", r.aggType), slog.String("id", id)))

	v, err = r.store.Version(ctx, r.aggType, id)
	if err != nil {
		return agg, 0, err
	}
	if v == 0 {
		log.Debug("not found")
		return agg, 0, ErrAggregateNotFound
	}

	events, loaded, err := LoadEvents(ctx, r.store, r.decoder, r.aggType, id)
	if err != nil {
		return agg, 0, fmt.Errorf("load agg_type=%s agg_id=%s: %w", r.aggType, id, err)
	}
	agg, err = r.reconstitute(events)
	if err != nil {
		return agg, 0, fmt.Errorf("reconstitute agg_type=%s agg_id=%s: %w", r.aggType, id, err)
	}

	log.Debug("loaded", loaded.SlogAttr(), slog.Int("num_events", len(events)))
	return agg, loaded, nil
}

// Save releases the recorded events of agg and appends them with the
// expected version. An aggregate without recorded events is a no-op.
func (r *Repository[T]) Save(ctx context.Context, agg T, expected Version) (*AppendResult, error) {
	events := agg.ReleaseEvents()
	if len(events) == 0 {
		return &AppendResult{}, nil
	}
	defer r.metrics.RepoSaveDuration(r.aggType).ObserveDuration()

	aggID := agg.GetID()
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	envelopes, err := EncodeEvents(r.newID, r.aggType, aggID, expected, events...)
	if err != nil {
		return nil, err
	}

	res, err := r.store.Append(ctx, r.aggType, aggID, expected, envelopes)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(r.aggType)
		}
		return nil, fmt.Errorf("failed to save agg_type=%s agg_id=%s: %w", r.aggType, aggID, err)
	}

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("id", aggID),
			slog.String("type", r.aggType),
			slog.Uint64("seq", res.LastSeq),
			expected.Next(len(envelopes)).SlogAttr(),
		),
		slog.Int("num_events", len(envelopes)),
	)
	return res, nil
}
