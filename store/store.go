// Package store persists harvest run history in SQLite and writes harvest
// artifacts to disk.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/harvest/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	status      TEXT NOT NULL,
	code        TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	listings    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Store is the run history. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path. Use ":memory:" for
// a throwaway store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run, assigning an ID when run.ID is empty.
func (s *Store) Record(ctx context.Context, run models.RunSummary) (models.RunSummary, error) {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return run, fmt.Errorf("store: new id: %w", err)
		}
		run.ID = id.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, duration_ms, attempts, status, code, error, listings)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.DurationMs, run.Attempts,
		run.Status, run.Code, run.Error, run.Listings,
	)
	if err != nil {
		return run, fmt.Errorf("store: insert run: %w", err)
	}
	return run, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, attempts, status, code, error, listings
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunSummary{}
	for rows.Next() {
		var (
			r       models.RunSummary
			started int64
		)
		if err := rows.Scan(&r.ID, &started, &r.DurationMs, &r.Attempts,
			&r.Status, &r.Code, &r.Error, &r.Listings); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}
	return runs, nil
}
