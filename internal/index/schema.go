// Package index provides the SQLite-backed derived cache of notes, todos, links,
// tags, embedding chunks and history, with optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	path         TEXT PRIMARY KEY,
	notebook     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	date         TEXT,
	tags         TEXT NOT NULL DEFAULT '[]',
	todo_exclude INTEGER NOT NULL DEFAULT 0,
	outline      TEXT NOT NULL DEFAULT '[]',
	extra        TEXT NOT NULL DEFAULT '{}',
	checksum     TEXT NOT NULL DEFAULT '',
	external     INTEGER NOT NULL DEFAULT 0,
	body         TEXT NOT NULL DEFAULT '',
	modified_at  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_notes_notebook ON notes(notebook);

CREATE TABLE IF NOT EXISTS note_tags (
	path TEXT NOT NULL,
	tag  TEXT NOT NULL,
	PRIMARY KEY (path, tag)
);
CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag);

CREATE TABLE IF NOT EXISTS todos (
	path         TEXT NOT NULL,
	line         INTEGER NOT NULL,
	id           TEXT NOT NULL,
	notebook     TEXT NOT NULL DEFAULT '',
	depth        INTEGER NOT NULL DEFAULT 0,
	content      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	due          TEXT,
	due_has_time INTEGER NOT NULL DEFAULT 0,
	priority     INTEGER NOT NULL DEFAULT 0,
	tags         TEXT NOT NULL DEFAULT '[]',
	section      TEXT NOT NULL DEFAULT '[]',
	parent_id    TEXT NOT NULL DEFAULT '',
	details      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (path, line)
);
CREATE INDEX IF NOT EXISTS idx_todos_id ON todos(id);
CREATE INDEX IF NOT EXISTS idx_todos_due ON todos(due);

CREATE TABLE IF NOT EXISTS todo_tags (
	path TEXT NOT NULL,
	line INTEGER NOT NULL,
	tag  TEXT NOT NULL,
	PRIMARY KEY (path, line, tag)
);
CREATE INDEX IF NOT EXISTS idx_todo_tags_tag ON todo_tags(tag);

CREATE TABLE IF NOT EXISTS links (
	source   TEXT NOT NULL,
	target   TEXT NOT NULL,
	type     TEXT NOT NULL,
	line     INTEGER NOT NULL DEFAULT 0,
	external INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);

CREATE TABLE IF NOT EXISTS chunks (
	path         TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	heading      TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	start_line   INTEGER NOT NULL,
	end_line     INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	vector       BLOB,
	PRIMARY KEY (path, seq)
);

CREATE TABLE IF NOT EXISTS embedding_cache (
	content_hash TEXT NOT NULL,
	model        TEXT NOT NULL,
	vector       BLOB NOT NULL,
	PRIMARY KEY (content_hash, model)
);

CREATE TABLE IF NOT EXISTS history (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_kind_at ON history(kind, at);

CREATE TABLE IF NOT EXISTS linked_paths (
	path         TEXT PRIMARY KEY,
	alias        TEXT NOT NULL DEFAULT '',
	recursive    INTEGER NOT NULL DEFAULT 0,
	sync         INTEGER NOT NULL DEFAULT 0,
	todo_exclude INTEGER NOT NULL DEFAULT 0
);
`

// Timestamps are stored as fixed-width UTC text so lexical order is time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Due dates are wall-clock values without a zone.
const dueLayout = "2006-01-02T15:04:05"

// DB wraps a sql.DB with index-specific operations. Writes are serialized by
// writeMu; readers go straight to the pool and see only committed transactions.
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("index: create cache dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// formatDue drops the zone and keeps the wall clock.
func formatDue(t time.Time) string {
	return t.Format(dueLayout)
}

func parseDue(s string) (time.Time, bool) {
	t, err := time.ParseInLocation(dueLayout, s, time.UTC)
	return t, err == nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
