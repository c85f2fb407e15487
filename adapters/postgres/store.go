// Package postgres is an event store on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/identity-go/core/es"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation = "23505"
	selectColumns   = `SELECT seq, id, aggregate_type, aggregate_id, version, type, occurred_at, data FROM events`
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Log             *slog.Logger
}

// NewPool opens a pool for cfg and pings the server.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Store keeps every stream in one events table. The unique key on
// (aggregate_type, aggregate_id, version) decides concurrent appends.
// Global order is the BIGSERIAL seq column, see ReadAll.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects with cfg and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := New(ctx, pool, cfg.Log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New applies the schema on pool. The caller keeps ownership of pool.
func New(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, log: log.With(slog.String("store", "postgres"))}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Version(ctx context.Context, aggType, aggID string) (es.Version, error) {
	return currentVersion(ctx, s.pool, aggType, aggID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func currentVersion(ctx context.Context, q querier, aggType, aggID string) (es.Version, error) {
	var v int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggType, aggID,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return es.Version(v), nil
}

func (s *Store) Load(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	rows, err := s.pool.Query(ctx,
		selectColumns+` WHERE aggregate_type = $1 AND aggregate_id = $2 ORDER BY version`,
		aggType, aggID,
	)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", aggType, aggID, err)
	}
	return scanEnvelopes(rows)
}

// ReadAll pages through the log in seq order. seq is taken from the
// sequence at insert time, so a transaction that is still open can hold a
// lower seq than one that already committed. The share lock waits for every
// open writer and keeps new ones out while the page is read, so a page
// never skips a seq that commits later.
func (s *Store) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]es.Envelope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `LOCK TABLE events IN SHARE MODE`); err != nil {
		return nil, fmt.Errorf("lock events: %w", err)
	}

	var rows pgx.Rows
	if limit > 0 {
		rows, err = tx.Query(ctx, selectColumns+` WHERE seq > $1 ORDER BY seq LIMIT $2`, int64(afterSeq), limit)
	} else {
		rows, err = tx.Query(ctx, selectColumns+` WHERE seq > $1 ORDER BY seq`, int64(afterSeq))
	}
	if err != nil {
		return nil, fmt.Errorf("read all after %d: %w", afterSeq, err)
	}
	out, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *Store) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected es.Version,
	envelopes []es.Envelope,
) (*es.AppendResult, error) {
	if err := es.CheckAppend(aggType, aggID, expected, envelopes); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	actual, err := currentVersion(ctx, tx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	if actual != expected {
		return nil, es.NewConcurrencyConflict(aggType, aggID, expected, actual)
	}

	res := &es.AppendResult{Envelopes: make([]es.Envelope, 0, len(envelopes))}
	for _, env := range envelopes {
		var seq int64
		err := tx.QueryRow(ctx,
			`INSERT INTO events (id, aggregate_type, aggregate_id, version, type, occurred_at, data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
			env.ID, aggType, aggID, int64(env.Version), env.Type, env.OccurredAt, []byte(env.Data),
		).Scan(&seq)
		if err != nil {
			if isUniqueViolation(err) {
				// A concurrent writer committed the same version first.
				winner, _ := currentVersion(ctx, s.pool, aggType, aggID)
				return nil, es.NewConcurrencyConflict(aggType, aggID, expected, winner)
			}
			return nil, fmt.Errorf("insert %s v%d: %w", env.Type, env.Version, err)
		}
		env.Seq = uint64(seq)
		res.Envelopes = append(res.Envelopes, env)
		res.LastSeq = env.Seq
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, es.NewConcurrencyConflict(aggType, aggID, expected, actual)
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.log.Debug(
		"appended",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		expected.SlogAttrWithKey("expected"),
		slog.Int("num_events", len(envelopes)),
	)
	return res, nil
}

func scanEnvelopes(rows pgx.Rows) ([]es.Envelope, error) {
	defer rows.Close()

	var out []es.Envelope
	for rows.Next() {
		var (
			env     es.Envelope
			seq     int64
			version int64
			data    []byte
		)
		if err := rows.Scan(&seq, &env.ID, &env.AggregateType, &env.AggregateID, &version, &env.Type, &env.OccurredAt, &data); err != nil {
			return nil, err
		}
		env.Seq = uint64(seq)
		env.Version = es.Version(version)
		// timestamptz scans in the local zone.
		env.OccurredAt = env.OccurredAt.UTC()
		env.Data = data
		out = append(out, env)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ es.EventStore   = (*Store)(nil)
	_ es.GlobalReader = (*Store)(nil)
)
