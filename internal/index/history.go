package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

// AppendHistory records an event for path. The log is append-only and is not
// touched by note replace or delete.
func (db *DB) AppendHistory(ctx context.Context, path, kind string, at time.Time) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return appendHistory(ctx, db.conn, path, kind, at)
}

func appendHistory(ctx context.Context, ex interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, path, kind string, at time.Time) error {
	if _, err := ex.ExecContext(ctx, `INSERT INTO history (path, kind, at) VALUES (?, ?, ?)`, path, kind, formatTS(at)); err != nil {
		return fmt.Errorf("index: append history: %w", err)
	}
	return nil
}

// History returns events newest first. An empty kind returns every kind.
func (db *DB) History(ctx context.Context, kind string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT path, kind, at FROM history`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: history: %w", err)
	}
	defer rows.Close()
	var out []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var at string
		if err := rows.Scan(&e.Path, &e.Kind, &at); err != nil {
			return nil, err
		}
		e.At = parseTS(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentlyViewed returns distinct paths by their latest view, newest first.
func (db *DB) RecentlyViewed(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT path, max(at) AS last FROM history
		WHERE kind = ?
		GROUP BY path
		ORDER BY last DESC, path
		LIMIT ?
	`, models.HistoryViewed, limit)
	if err != nil {
		return nil, fmt.Errorf("index: recently viewed: %w", err)
	}
	defer rows.Close()
	var out []models.HistoryEntry
	for rows.Next() {
		e := models.HistoryEntry{Kind: models.HistoryViewed}
		var at string
		if err := rows.Scan(&e.Path, &at); err != nil {
			return nil, err
		}
		e.At = parseTS(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
