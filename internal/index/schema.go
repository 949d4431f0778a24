// Package index provides a SQLite-backed search index over extracted
// callouts, with optional FTS5 full-text search. The index is derived
// from the cache snapshot and can always be rebuilt from it.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path  TEXT PRIMARY KEY,
	mtime TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS callouts (
	path          TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
	line          INTEGER NOT NULL,
	type          TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	block_id      TEXT NOT NULL DEFAULT '',
	heading_path  TEXT NOT NULL DEFAULT '[]',
	created_time  TEXT NOT NULL DEFAULT '',
	modified_time TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (path, line)
);

CREATE INDEX IF NOT EXISTS idx_callouts_block ON callouts(path, block_id);
CREATE INDEX IF NOT EXISTS idx_callouts_type  ON callouts(type);

CREATE TABLE IF NOT EXISTS callout_links (
	source_path TEXT NOT NULL,
	source_id   TEXT NOT NULL DEFAULT '',
	target_path TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	UNIQUE(source_path, source_id, target_path, target_id)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON callout_links(source_path);
CREATE INDEX IF NOT EXISTS idx_links_target ON callout_links(target_path, target_id);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
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
