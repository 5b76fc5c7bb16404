package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the audit tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
//
// webhook_events is keyed by (id, received_at); the secondary indexes are the
// operator query paths: per source, per event type, per status, the composite
// source:event_type, and a civil calendar-date partition.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS webhook_events (
  id            TEXT NOT NULL,
  received_at   TEXT NOT NULL,
  received_date TEXT NOT NULL,
  source        TEXT NOT NULL,
  event_type    TEXT NOT NULL DEFAULT 'unknown',
  status        TEXT NOT NULL,
  payload       JSON,
  raw_body      TEXT,
  body_digest   TEXT,
  headers       JSON,
  metadata      JSON,
  extra         JSON,
  updated_at    TEXT,
  expires_at    TEXT NOT NULL,
  PRIMARY KEY (id, received_at)
);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_source_received_idx ON webhook_events(source, received_at);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_type_received_idx ON webhook_events(event_type, received_at);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_status_received_idx ON webhook_events(status, received_at);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_source_type_idx ON webhook_events(source, event_type, received_at);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_date_idx ON webhook_events(received_date);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_expires_idx ON webhook_events(expires_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
