//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/othala/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS callouts_fts USING fts5(
			path UNINDEXED,
			line UNINDEXED,
			block_id UNINDEXED,
			type,
			title,
			body,
			headings,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, c models.Callout) error {
	texts := make([]string, len(c.Headings))
	for i, h := range c.Headings {
		texts[i] = h.Text
	}
	_, err := tx.Exec(`
		INSERT INTO callouts_fts (path, line, block_id, type, title, body, headings)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.Path, c.Line, c.ID, c.Type, c.Title, c.Body, strings.Join(texts, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM callouts_fts WHERE path = ?`, path)
}

// Search performs an FTS5 full-text search and returns matching callouts
// with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT path,
		       line,
		       block_id,
		       type,
		       title,
		       snippet(callouts_fts, 5, '<b>', '</b>', '...', 64)
		FROM callouts_fts
		WHERE callouts_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Line, &r.BlockID, &r.Type, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
