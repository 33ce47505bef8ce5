// Package store provides SQLite persistence for the content database and the
// build-state singleton.
//
// The data-entry CRUD surface lives in a separate service; this package only
// needs consistent snapshot reads, the two pipeline write-backs (localized
// cover path and availability status), and atomic build-state transitions.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the database at path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The modernc driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY between the scanner and the pipeline.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS publisher (
		token_hash   TEXT PRIMARY KEY,
		display_name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS category (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		root_id    INTEGER NOT NULL,
		parent_id  INTEGER REFERENCES category(id),
		name       TEXT NOT NULL,
		slug       TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS item (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		title          TEXT NOT NULL,
		source_uri     TEXT NOT NULL,
		fingerprint    TEXT NOT NULL,
		body_markdown  TEXT NOT NULL DEFAULT '',
		cover_url      TEXT,
		cover_path     TEXT,
		tags_json      TEXT NOT NULL DEFAULT '[]',
		category_id    INTEGER NOT NULL REFERENCES category(id),
		publisher_hash TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'Unknown',
		last_checked   TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		published_at   TEXT NOT NULL,
		takedown_at    TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_item_fingerprint ON item(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_item_published ON item(published_at);
	CREATE TABLE IF NOT EXISTS build_state (
		id              INTEGER PRIMARY KEY CHECK (id = 1),
		dirty           INTEGER NOT NULL DEFAULT 0,
		reason          TEXT,
		mark_seq        INTEGER NOT NULL DEFAULT 0,
		running         INTEGER NOT NULL DEFAULT 0,
		last_success_at TEXT,
		last_commit     TEXT,
		last_error      TEXT
	);
	INSERT OR IGNORE INTO build_state (id) VALUES (1);
	-- The store is single-process: running = 1 at open time means the
	-- previous process died mid-build, so the flag is stale. Dirty is left
	-- as-is; the interrupted build never cleared it.
	UPDATE build_state SET running = 0 WHERE id = 1 AND running = 1;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for the CRUD layer and tests.
func (s *Store) DB() *sql.DB { return s.db }

const timeLayout = time.RFC3339

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
