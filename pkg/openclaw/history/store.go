// Package history records every pipeline invocation in a local SQLite
// database for later inspection (`openclaw schedule runs`).
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record is one completed invocation.
type Record struct {
	ID         string
	SessionKey string
	Source     string // message, cron, heartbeat
	StartedAt  time.Time
	Duration   time.Duration
	ExitCode   *int
	Killed     bool
	Payloads   int
	Error      string
}

// Store is the SQLite-backed run history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	source      TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	exit_code   INTEGER,
	killed      BOOLEAN NOT NULL DEFAULT 0,
	payloads    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_key, started_at);
`

// Open opens (creating if needed) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Append records one invocation.
func (s *Store) Append(rec Record) error {
	var exit any
	if rec.ExitCode != nil {
		exit = *rec.ExitCode
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, session_key, source, started_at, duration_ms, exit_code, killed, payloads, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionKey, rec.Source, rec.StartedAt.UTC(),
		rec.Duration.Milliseconds(), exit, rec.Killed, rec.Payloads, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, session_key, source, started_at, duration_ms, exit_code, killed, payloads, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			durationMs int64
			exit       sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionKey, &rec.Source, &rec.StartedAt,
			&durationMs, &exit, &rec.Killed, &rec.Payloads, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if exit.Valid {
			code := int(exit.Int64)
			rec.ExitCode = &code
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
