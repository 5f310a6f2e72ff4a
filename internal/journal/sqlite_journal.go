// Package journal provides a WAL-mode SQLite-backed event journal for
// dirwatcher. Every event reported by the scanner is appended to the journal
// so that it survives restarts and can be inspected with `dirwatcher events`.
//
// # Forwarding
//
// Entries start out pending. When a PostgreSQL event store is configured the
// driver reads pending entries with Pending, inserts them into the store, and
// marks them with Ack. If the process exits between the insert and the Ack,
// the entries are returned again after restart; the store ignores duplicate
// event IDs, so delivery is at-least-once without double counting.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

// SQLiteJournal is a WAL-mode SQLite event journal. It implements
// watcher.Sink and is safe for concurrent use.
type SQLiteJournal struct {
	db    *sql.DB
	depth atomic.Int64
}

// Entry is a journalled event. Seq is the database primary key used to
// acknowledge the entry via Ack.
type Entry struct {
	Seq       int64
	Event     watcher.Event
	Forwarded bool
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory database
// is used; this is suitable for tests but loses all data when closed.
//
// The pending counter is seeded from rows not yet forwarded, so Depth() is
// accurate immediately after a restart.
func Open(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors between the poll loop and the status API.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	j := &SQLiteJournal{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE forwarded = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: count pending rows: %w", err)
	}
	j.depth.Store(count)

	return j, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS events (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT    NOT NULL UNIQUE,
    kind        TEXT    NOT NULL,
    directory   TEXT    NOT NULL,
    file        TEXT    NOT NULL,
    line        INTEGER NOT NULL DEFAULT 0,
    magic       TEXT    NOT NULL DEFAULT '',
    ts          TEXT    NOT NULL,
    recorded_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    forwarded   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_pending
    ON events (forwarded, seq);
`

// Emit appends evt to the journal. It implements watcher.Sink. An event
// whose ID is already journalled is ignored.
func (j *SQLiteJournal) Emit(ctx context.Context, evt watcher.Event) error {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO events (event_id, kind, directory, file, line, magic, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		evt.ID,
		evt.Kind.String(),
		evt.Directory,
		evt.File,
		evt.Line,
		evt.Magic,
		evt.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}

	n, _ := res.RowsAffected()
	j.depth.Add(n)
	return nil
}

// Pending returns up to n entries not yet forwarded, oldest first. It does
// not change them; call Ack with their Seq values once they are stored.
// If n ≤ 0, Pending returns nil without querying the database.
func (j *SQLiteJournal) Pending(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	return j.query(ctx,
		`SELECT seq, event_id, kind, directory, file, line, magic, ts, forwarded
		 FROM   events
		 WHERE  forwarded = 0
		 ORDER  BY seq
		 LIMIT  ?`, n)
}

// Recent returns up to n of the newest entries, newest first, regardless of
// forwarding state.
func (j *SQLiteJournal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	return j.query(ctx,
		`SELECT seq, event_id, kind, directory, file, line, magic, ts, forwarded
		 FROM   events
		 ORDER  BY seq DESC
		 LIMIT  ?`, n)
}

func (j *SQLiteJournal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			kind      string
			tsStr     string
			forwarded int
		)
		if err := rows.Scan(
			&e.Seq,
			&e.Event.ID,
			&kind,
			&e.Event.Directory,
			&e.Event.File,
			&e.Event.Line,
			&e.Event.Magic,
			&tsStr,
			&forwarded,
		); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}

		// An unknown kind leaves the zero value rather than failing the
		// whole read, so one bad row cannot block forwarding.
		e.Event.Kind, _ = watcher.ParseEventKind(kind)

		e.Event.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			e.Event.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		}
		e.Forwarded = forwarded != 0

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return entries, nil
}

// Ack marks the entries identified by seqs as forwarded. It is idempotent;
// the pending counter only drops for rows that actually change state.
func (j *SQLiteJournal) Ack(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(seqs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(seqs))
	for i, s := range seqs {
		args[i] = s
	}

	result, err := j.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE events SET forwarded = 1 WHERE seq IN (%s) AND forwarded = 0`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("journal: ack: %w", err)
	}

	n, _ := result.RowsAffected()
	j.depth.Add(-n)
	return nil
}

// Depth returns the number of entries not yet forwarded. It never blocks.
func (j *SQLiteJournal) Depth() int {
	return int(j.depth.Load())
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
