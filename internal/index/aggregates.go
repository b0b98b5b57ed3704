package index

import (
	"context"
	"fmt"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

// TagCount is the usage of one tag across notes and todos.
type TagCount struct {
	Tag   string `json:"tag"`
	Notes int    `json:"notes"`
	Todos int    `json:"todos"`
}

// NotebookCount summarizes one notebook.
type NotebookCount struct {
	Notebook  string `json:"notebook"`
	Notes     int    `json:"notes"`
	OpenTodos int    `json:"open_todos"`
}

// TagCounts returns every tag with its note and todo counts, most used first.
func (db *DB) TagCounts(ctx context.Context) ([]TagCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT tag, sum(notes), sum(todos) FROM (
			SELECT tag, count(*) AS notes, 0 AS todos FROM note_tags GROUP BY tag
			UNION ALL
			SELECT tag, 0, count(*) FROM todo_tags GROUP BY tag
		)
		GROUP BY tag
		ORDER BY sum(notes) + sum(todos) DESC, tag
	`)
	if err != nil {
		return nil, fmt.Errorf("index: tag counts: %w", err)
	}
	defer rows.Close()
	var out []TagCount
	for rows.Next() {
		var c TagCount
		if err := rows.Scan(&c.Tag, &c.Notes, &c.Todos); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// NotebookCounts returns note and open-todo counts per notebook, by name.
func (db *DB) NotebookCounts(ctx context.Context) ([]NotebookCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.notebook, count(*),
		       (SELECT count(*) FROM todos t WHERE t.notebook = n.notebook AND t.status <> ?)
		FROM notes n
		GROUP BY n.notebook
		ORDER BY n.notebook
	`, string(models.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("index: notebook counts: %w", err)
	}
	defer rows.Close()
	var out []NotebookCount
	for rows.Next() {
		var c NotebookCount
		if err := rows.Scan(&c.Notebook, &c.Notes, &c.OpenTodos); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentlyModified returns notes by modification time, newest first.
func (db *DB) RecentlyModified(ctx context.Context, limit int) ([]models.Note, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes n ORDER BY n.modified_at DESC, n.path LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: recently modified: %w", err)
	}
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
