// Package storage provides the optional PostgreSQL event store for
// dirwatcher. Journalled events are forwarded here in batches so that events
// from many hosts can be queried centrally.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

// Store is the PostgreSQL-backed event store.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS dirwatcher_events (
    event_id    UUID        PRIMARY KEY,
    kind        TEXT        NOT NULL,
    directory   TEXT        NOT NULL,
    file        TEXT        NOT NULL,
    line        INTEGER     NOT NULL DEFAULT 0,
    magic       TEXT        NOT NULL DEFAULT '',
    observed_at TIMESTAMPTZ NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_dirwatcher_events_file
    ON dirwatcher_events (directory, file, observed_at);
`

// New opens a pgxpool connection to connStr, pings the database, and applies
// the schema.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Insert writes events in a single pgx.Batch round-trip. Rows whose event_id
// already exists are ignored, so replaying a batch after a crash is safe.
func (s *Store) Insert(ctx context.Context, events []watcher.Event) error {
	if len(events) == 0 {
		return nil
	}

	const query = `
		INSERT INTO dirwatcher_events
			(event_id, kind, directory, file, line, magic, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	for i := range events {
		e := &events[i]
		b.Queue(query,
			e.ID, e.Kind.String(), e.Directory, e.File,
			e.Line, e.Magic, e.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("storage: batch insert event: %w", err)
		}
	}
	return nil
}

// EventQuery filters QueryEvents. Zero values disable a filter.
type EventQuery struct {
	Directory string
	File      string
	Kind      string
	Limit     int
}

// QueryEvents returns stored events ordered by observed_at, newest first.
// Limit defaults to 100.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]watcher.Event, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	args := []any{q.Limit}
	where := "WHERE TRUE"
	if q.Directory != "" {
		args = append(args, q.Directory)
		where += fmt.Sprintf(" AND directory = $%d", len(args))
	}
	if q.File != "" {
		args = append(args, q.File)
		where += fmt.Sprintf(" AND file = $%d", len(args))
	}
	if q.Kind != "" {
		args = append(args, q.Kind)
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}

	sql := fmt.Sprintf(`
		SELECT event_id::text, kind, directory, file, line, magic, observed_at
		FROM   dirwatcher_events
		%s
		ORDER  BY observed_at DESC, event_id
		LIMIT  $1`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	var out []watcher.Event
	for rows.Next() {
		var (
			e    watcher.Event
			kind string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Directory, &e.File, &e.Line, &e.Magic, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		e.Kind, _ = watcher.ParseEventKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: rows: %w", err)
	}
	return out, nil
}
