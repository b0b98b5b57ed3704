//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; full-text search scans notes.body with LIKE.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _ string, _ []string) error {
	// Body is already stored in the notes table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _ string) {}

func ftsReset(_ *sql.Tx) error { return nil }

// KeywordSearch matches notes containing every query term. Scoring counts term
// occurrences: title hits weigh 3, tag hits 2, body hits 1.
func (db *DB) KeywordSearch(ctx context.Context, query, notebook string, limit int) ([]KeywordHit, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var (
		where []string
		args  []any
	)
	for _, t := range terms {
		like := "%" + escapeLike(t) + "%"
		where = append(where, `(lower(n.title) LIKE ? ESCAPE '\' OR lower(n.body) LIKE ? ESCAPE '\' OR n.tags LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if notebook != "" {
		where = append(where, `n.notebook = ?`)
		args = append(args, notebook)
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.path, n.title, n.notebook, n.tags, n.body, n.modified_at
		FROM notes n
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []KeywordHit
	for rows.Next() {
		var h KeywordHit
		var tags, body, modified string
		if err := rows.Scan(&h.Path, &h.Title, &h.Notebook, &tags, &body, &modified); err != nil {
			return nil, err
		}
		title, lbody, ltags := strings.ToLower(h.Title), strings.ToLower(body), strings.ToLower(tags)
		for _, t := range terms {
			h.Score += 3*float64(strings.Count(title, t)) + 2*float64(strings.Count(ltags, t)) + float64(strings.Count(lbody, t))
		}
		h.Snippet = snippetAround(body, terms, 160)
		h.ModifiedAt = parseTS(modified)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
