package index

import (
	"encoding/json"
	"fmt"

	"github.com/starford/othala/internal/models"
)

// CalloutRow is one callout as listed by the index.
type CalloutRow struct {
	Path     string
	Line     int
	Type     string
	Title    string
	BlockID  string
	Modified string
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string
	Line    int
	BlockID string
	Type    string
	Title   string
	Snippet string
}

// BacklinkRow is one callout linking at a backlink target.
type BacklinkRow struct {
	Path  string
	ID    string
	Label string
}

// UpsertDoc replaces a document's row, its callouts, their FTS entries and
// their outlinks within a transaction.
func (db *DB) UpsertDoc(path string, mtime models.TimeString, callouts []models.Callout) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO documents (path, mtime)
		VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET mtime = excluded.mtime
	`, path, string(mtime))
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// Replace the document's callouts and links: delete old then bulk insert.
	_, _ = tx.Exec(`DELETE FROM callouts WHERE path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM callout_links WHERE source_path = ?`, path)
	ftsDelete(tx, path)

	if len(callouts) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO callouts (path, line, type, title, body, block_id, heading_path, created_time, modified_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare callout insert: %w", err)
		}
		defer stmt.Close()

		link, err := tx.Prepare(`
			INSERT OR IGNORE INTO callout_links (source_path, source_id, target_path, target_id, label)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer link.Close()

		for _, c := range callouts {
			headingsJSON, _ := json.Marshal(c.Headings)
			if _, err := stmt.Exec(c.Path, c.Line, c.Type, c.Title, c.Body, c.ID,
				string(headingsJSON), string(c.Created), string(c.Modified)); err != nil {
				return fmt.Errorf("index: insert callout: %w", err)
			}
			if err := ftsUpsert(tx, c); err != nil {
				return err
			}
			for _, l := range c.Outlinks {
				if _, err := link.Exec(c.Path, c.ID, l.TargetPath, l.TargetID, l.Label); err != nil {
					return fmt.Errorf("index: insert link: %w", err)
				}
			}
		}
	}

	return tx.Commit()
}

// DeleteDoc removes a document, its callouts, their FTS entries and
// outgoing links.
func (db *DB) DeleteDoc(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM callout_links WHERE source_path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM documents WHERE path = ?`, path)

	return tx.Commit()
}

// GetMtime returns the stored mtime for a document, or empty string if not
// indexed.
func (db *DB) GetMtime(path string) (string, error) {
	var mt string
	err := db.conn.QueryRow(`SELECT mtime FROM documents WHERE path = ?`, path).Scan(&mt)
	if err != nil {
		return "", nil // not found is fine
	}
	return mt, nil
}

// ListCallouts returns a page of indexed callouts plus the total count.
// typ filters by callout type when non-empty. sort is "modified" (newest
// first, the default) or "path".
func (db *DB) ListCallouts(limit, offset int, typ, sort string) ([]CalloutRow, int, error) {
	if limit <= 0 {
		limit = 50
	}

	where, args := "", []any{}
	if typ != "" {
		where = "WHERE type = ?"
		args = append(args, typ)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM callouts `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count callouts: %w", err)
	}

	order := "modified_time DESC, path, line"
	if sort == "path" {
		order = "path, line"
	}

	rows, err := db.conn.Query(`
		SELECT path, line, type, title, block_id, modified_time
		FROM callouts `+where+`
		ORDER BY `+order+`
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list callouts: %w", err)
	}
	defer rows.Close()

	var out []CalloutRow
	for rows.Next() {
		var r CalloutRow
		if err := rows.Scan(&r.Path, &r.Line, &r.Type, &r.Title, &r.BlockID, &r.Modified); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Backlinks returns every indexed callout that links at the given target.
func (db *DB) Backlinks(target models.Ref) ([]BacklinkRow, error) {
	rows, err := db.conn.Query(`
		SELECT source_path, source_id, label
		FROM callout_links
		WHERE target_path = ? AND target_id = ?
		ORDER BY source_path, source_id
	`, target.Path, target.ID)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []BacklinkRow
	for rows.Next() {
		var b BacklinkRow
		if err := rows.Scan(&b.Path, &b.ID, &b.Label); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AllPaths returns every indexed document path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// AllMtimes returns the recorded mtime of every indexed document.
func (db *DB) AllMtimes() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, mtime FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all mtimes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, mt string
		if err := rows.Scan(&p, &mt); err != nil {
			return nil, err
		}
		out[p] = mt
	}
	return out, rows.Err()
}
