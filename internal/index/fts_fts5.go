//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			path UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, path, title, body string, tags []string) error {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, path)
	_, err := tx.Exec(`INSERT INTO notes_fts (path, title, body, tags) VALUES (?, ?, ?, ?)`,
		path, title, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE path = ?`, path)
}

func ftsReset(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM notes_fts`); err != nil {
		return fmt.Errorf("index: reset fts: %w", err)
	}
	return nil
}

// KeywordSearch runs an FTS5 match requiring every term. Score is the negated
// bm25 rank with title weighted over tags over body.
func (db *DB) KeywordSearch(ctx context.Context, query, notebook string, limit int) ([]KeywordHit, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}

	q := `
		SELECT f.path, n.title, n.notebook,
		       snippet(notes_fts, 2, '<b>', '</b>', '...', 24),
		       -bm25(notes_fts, 0.0, 5.0, 1.0, 2.0),
		       n.modified_at
		FROM notes_fts f JOIN notes n ON n.path = f.path
		WHERE notes_fts MATCH ?`
	args := []any{strings.Join(quoted, " ")}
	if notebook != "" {
		q += ` AND n.notebook = ?`
		args = append(args, notebook)
	}
	q += ` ORDER BY bm25(notes_fts, 0.0, 5.0, 1.0, 2.0), f.path LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []KeywordHit
	for rows.Next() {
		var h KeywordHit
		var modified string
		if err := rows.Scan(&h.Path, &h.Title, &h.Notebook, &h.Snippet, &h.Score, &modified); err != nil {
			return nil, err
		}
		h.ModifiedAt = parseTS(modified)
		out = append(out, h)
	}
	return out, rows.Err()
}
