// Package sqlite is an event store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codewandler/identity-go/core/es"
)

//go:embed schema.sql
var schema string

const selectColumns = `SELECT seq, id, aggregate_type, aggregate_id, version, type, occurred_at, data FROM events`

// Store keeps every stream in one events table. Writers take the database
// lock when their transaction begins, so the version check and the inserts
// of an append are atomic.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log == nil {
		log = slog.Default()
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{
		db:  db,
		log: log.With(slog.String("store", "sqlite"), slog.String("path", path)),
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Version(ctx context.Context, aggType, aggID string) (es.Version, error) {
	return currentVersion(ctx, s.db, aggType, aggID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q querier, aggType, aggID string) (es.Version, error) {
	var v int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggType, aggID,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return es.Version(v), nil
}

func (s *Store) Load(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE aggregate_type = ? AND aggregate_id = ? ORDER BY version`,
		aggType, aggID,
	)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", aggType, aggID, err)
	}
	return scanEnvelopes(rows)
}

func (s *Store) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]es.Envelope, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE seq > ? ORDER BY seq LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read all after %d: %w", afterSeq, err)
	}
	return scanEnvelopes(rows)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

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
		err := tx.QueryRowContext(ctx,
			`INSERT INTO events (id, aggregate_type, aggregate_id, version, type, occurred_at, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING seq`,
			env.ID, aggType, aggID, int64(env.Version), env.Type, env.OccurredAt.UnixMicro(), []byte(env.Data),
		).Scan(&seq)
		if err != nil {
			if isConstraintError(err) {
				return nil, es.NewConcurrencyConflict(aggType, aggID, expected, actual)
			}
			return nil, fmt.Errorf("insert %s v%d: %w", env.Type, env.Version, err)
		}
		env.Seq = uint64(seq)
		env.OccurredAt = es.NormalizeTime(env.OccurredAt)
		res.Envelopes = append(res.Envelopes, env)
		res.LastSeq = env.Seq
	}

	if err := tx.Commit(); err != nil {
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

func scanEnvelopes(rows *sql.Rows) ([]es.Envelope, error) {
	defer func() { _ = rows.Close() }()

	var out []es.Envelope
	for rows.Next() {
		var (
			env        es.Envelope
			seq        int64
			version    int64
			occurredAt int64
			data       []byte
		)
		if err := rows.Scan(&seq, &env.ID, &env.AggregateType, &env.AggregateID, &version, &env.Type, &occurredAt, &data); err != nil {
			return nil, err
		}
		env.Seq = uint64(seq)
		env.Version = es.Version(version)
		env.OccurredAt = time.UnixMicro(occurredAt).UTC()
		env.Data = data
		out = append(out, env)
	}
	return out, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var (
	_ es.EventStore   = (*Store)(nil)
	_ es.GlobalReader = (*Store)(nil)
)
