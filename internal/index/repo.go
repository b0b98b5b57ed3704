package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/checksum"
	"github.com/thomas-villani/nb-sub001/internal/models"
)

// NoteRecord is everything derived from one file, replaced as a unit.
type NoteRecord struct {
	Note   models.Note
	Body   string
	Todos  []models.Todo
	Links  []models.Link
	Chunks []models.Chunk
	// EmbeddingModel names the model that produced chunk vectors, used as the
	// embedding cache key.
	EmbeddingModel string
}

// derivedTables are cleared per path on replace and delete. history is not among them.
var derivedTables = []struct{ table, column string }{
	{"todos", "path"},
	{"todo_tags", "path"},
	{"note_tags", "path"},
	{"links", "source"},
	{"chunks", "path"},
	{"notes", "path"},
}

// ErrStale is returned by CommitNote when the stored checksum no longer matches
// the one the record was prepared against.
var ErrStale = errors.New("index: note changed since it was read")

// CommitOptions guards and annotates a CommitNote.
type CommitOptions struct {
	// Guard makes the commit conditional on the stored checksum equalling
	// Expected. An empty Expected means the path must not be indexed yet.
	Guard    bool
	Expected string
	// ModifiedAt, when non-zero, appends a modified history event in the same
	// transaction.
	ModifiedAt time.Time
}

// ReplaceNote atomically swaps every derived row of rec.Note.Path for the new set.
func (db *DB) ReplaceNote(ctx context.Context, rec NoteRecord) error {
	return db.CommitNote(ctx, rec, CommitOptions{})
}

// CommitNote is ReplaceNote with an optional checksum guard and history event.
// A failed guard returns ErrStale and leaves the index untouched.
func (db *DB) CommitNote(ctx context.Context, rec NoteRecord, opts CommitOptions) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	n := rec.Note
	if opts.Guard {
		stored, err := storedChecksum(ctx, tx, n.Path)
		if err != nil {
			return err
		}
		if stored != opts.Expected {
			return fmt.Errorf("index: commit %s: %w", n.Path, ErrStale)
		}
	}
	if err := deletePath(ctx, tx, n.Path); err != nil {
		return err
	}

	tags, _ := json.Marshal(nonNil(n.Tags))
	outline, _ := json.Marshal(nonNilHeadings(n.Outline))
	extra, _ := json.Marshal(n.Extra)
	var date any
	if n.Date != nil {
		date = formatDue(*n.Date)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (path, notebook, title, date, tags, todo_exclude, outline, extra, checksum, external, body, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.Path, n.Notebook, n.Title, date, string(tags), boolInt(n.TodoExclude), string(outline), string(extra),
		n.Checksum, boolInt(n.External), rec.Body, formatTS(n.ModifiedAt))
	if err != nil {
		return fmt.Errorf("index: insert note: %w", err)
	}
	for _, tag := range n.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO note_tags (path, tag) VALUES (?, ?)`, n.Path, tag); err != nil {
			return fmt.Errorf("index: insert note tag: %w", err)
		}
	}

	if err := insertTodos(ctx, tx, rec.Todos); err != nil {
		return err
	}
	if err := insertLinks(ctx, tx, rec.Links); err != nil {
		return err
	}
	if err := insertChunks(ctx, tx, rec.Chunks, rec.EmbeddingModel); err != nil {
		return err
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, n.Path, n.Title, rec.Body, n.Tags); err != nil {
		return err
	}
	if !opts.ModifiedAt.IsZero() {
		if err := appendHistory(ctx, tx, n.Path, models.HistoryModified, opts.ModifiedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit %s: %w", n.Path, err)
	}
	return nil
}

// storedChecksum returns the indexed checksum of p, or "" when p is not indexed.
func storedChecksum(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, p string) (string, error) {
	var sum string
	err := q.QueryRowContext(ctx, `SELECT checksum FROM notes WHERE path = ?`, p).Scan(&sum)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("index: read checksum %s: %w", p, err)
	}
	return sum, nil
}

func insertTodos(ctx context.Context, tx *sql.Tx, todos []models.Todo) error {
	if len(todos) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO todos (path, line, id, notebook, depth, content, status, due, due_has_time, priority, tags, section, parent_id, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare todo insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range todos {
		var due any
		if t.Due != nil {
			due = formatDue(*t.Due)
		}
		tags, _ := json.Marshal(nonNil(t.Tags))
		section, _ := json.Marshal(nonNil(t.Section))
		if _, err := stmt.ExecContext(ctx, t.Path, t.Line, t.ID, t.Notebook, t.Depth, t.Content, string(t.Status),
			due, boolInt(t.DueTime), t.Priority, string(tags), string(section), t.ParentID, t.Details); err != nil {
			return fmt.Errorf("index: insert todo: %w", err)
		}
		for _, tag := range t.Tags {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO todo_tags (path, line, tag) VALUES (?, ?, ?)`, t.Path, t.Line, tag); err != nil {
				return fmt.Errorf("index: insert todo tag: %w", err)
			}
		}
	}
	return nil
}

func insertLinks(ctx context.Context, tx *sql.Tx, links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO links (source, target, type, line, external) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer stmt.Close()
	for _, l := range links {
		if _, err := stmt.ExecContext(ctx, l.Source, l.Target, l.Type, l.Line, boolInt(l.External)); err != nil {
			return fmt.Errorf("index: insert link: %w", err)
		}
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []models.Chunk, model string) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (path, seq, heading, content, start_line, end_line, content_hash, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare chunk insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		hash := checksum.Sum([]byte(c.Content))
		var vec any
		if len(c.Vector) > 0 {
			blob := encodeVector(c.Vector)
			vec = blob
			if model != "" {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO embedding_cache (content_hash, model, vector) VALUES (?, ?, ?)`,
					hash, model, blob); err != nil {
					return fmt.Errorf("index: cache embedding: %w", err)
				}
			}
		}
		if _, err := stmt.ExecContext(ctx, c.Path, c.Seq, c.Heading, c.Content, c.StartLine, c.EndLine, hash, vec); err != nil {
			return fmt.Errorf("index: insert chunk: %w", err)
		}
	}
	return nil
}

func deletePath(ctx context.Context, tx *sql.Tx, p string) error {
	for _, d := range derivedTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+d.table+` WHERE `+d.column+` = ?`, p); err != nil {
			return fmt.Errorf("index: clear %s: %w", d.table, err)
		}
	}
	ftsDelete(tx, p)
	return nil
}

// DeleteNote removes every derived row of a note. History entries are kept.
func (db *DB) DeleteNote(ctx context.Context, p string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deletePath(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset clears every derived table. History, the embedding cache and linked
// registrations survive.
func (db *DB) Reset(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, d := range derivedTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+d.table); err != nil {
			return fmt.Errorf("index: reset %s: %w", d.table, err)
		}
	}
	if err := ftsReset(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Checksums returns path → stored fingerprint for every indexed note.
func (db *DB) Checksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

const noteColumns = `n.path, n.notebook, n.title, n.date, n.tags, n.todo_exclude, n.outline, n.extra, n.checksum, n.external, n.modified_at,
	(SELECT max(h.at) FROM history h WHERE h.path = n.path AND h.kind = 'viewed')`

func scanNote(sc interface{ Scan(...any) error }) (models.Note, error) {
	var (
		n                 models.Note
		date, viewed      sql.NullString
		tags, outline, ex string
		excl, external    int
		modified          string
	)
	if err := sc.Scan(&n.Path, &n.Notebook, &n.Title, &date, &tags, &excl, &outline, &ex, &n.Checksum, &external, &modified, &viewed); err != nil {
		return n, err
	}
	n.TodoExclude, n.External = excl == 1, external == 1
	n.ModifiedAt = parseTS(modified)
	if date.Valid {
		if t, ok := parseDue(date.String); ok {
			n.Date = &t
		}
	}
	if viewed.Valid {
		t := parseTS(viewed.String)
		n.LastViewedAt = &t
	}
	what := "note " + n.Path
	if err := decodeColumn(what, "tags", tags, &n.Tags); err != nil {
		return n, err
	}
	if err := decodeColumn(what, "outline", outline, &n.Outline); err != nil {
		return n, err
	}
	if err := decodeColumn(what, "extra", ex, &n.Extra); err != nil {
		return n, err
	}
	return n, nil
}

// decodeColumn unmarshals a JSON column. Undecodable data means the cache was
// damaged outside the index and is reported as corrupt.
func decodeColumn(what, col, raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return &apperr.CorruptError{Detail: fmt.Sprintf("%s: %s column: %v", what, col, err)}
	}
	return nil
}

// Note returns one indexed note.
func (db *DB) Note(ctx context.Context, p string) (*models.Note, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.path = ?`, p)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %s: %w", p, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: note %s: %w", p, err)
	}
	return &n, nil
}

// Notes returns the indexed notes for paths, keyed by path. Missing paths are skipped.
func (db *DB) Notes(ctx context.Context, paths []string) (map[string]models.Note, error) {
	out := make(map[string]models.Note, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	q := `SELECT ` + noteColumns + ` FROM notes n WHERE n.path IN (` + placeholders(len(paths)) + `)`
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: notes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out[n.Path] = n
	}
	return out, rows.Err()
}

// Backlinks returns links pointing at p, matched by full path or by file name
// (wiki links usually name only the file).
func (db *DB) Backlinks(ctx context.Context, p string) ([]models.Link, error) {
	base := path.Base(p)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT source, target, type, line, external
		FROM links
		WHERE external = 0 AND source <> ? AND (target = ? OR target = ? OR lower(target) = lower(?))
		ORDER BY source, line
	`, p, p, base, base)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []models.Link
	for rows.Next() {
		var l models.Link
		var ext int
		if err := rows.Scan(&l.Source, &l.Target, &l.Type, &l.Line, &ext); err != nil {
			return nil, err
		}
		l.External = ext == 1
		out = append(out, l)
	}
	return out, rows.Err()
}

// Links returns the outgoing links of p in line order.
func (db *DB) Links(ctx context.Context, p string) ([]models.Link, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT source, target, type, line, external FROM links WHERE source = ? ORDER BY line, target
	`, p)
	if err != nil {
		return nil, fmt.Errorf("index: links: %w", err)
	}
	defer rows.Close()

	out := []models.Link{}
	for rows.Next() {
		var l models.Link
		var ext int
		if err := rows.Scan(&l.Source, &l.Target, &l.Type, &l.Line, &ext); err != nil {
			return nil, err
		}
		l.External = ext == 1
		out = append(out, l)
	}
	return out, rows.Err()
}

// AddLinked registers (or updates) a linked file or directory.
func (db *DB) AddLinked(ctx context.Context, lp models.LinkedPath) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO linked_paths (path, alias, recursive, sync, todo_exclude) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			alias        = excluded.alias,
			recursive    = excluded.recursive,
			sync         = excluded.sync,
			todo_exclude = excluded.todo_exclude
	`, lp.Path, lp.Alias, boolInt(lp.Recursive), boolInt(lp.Sync), boolInt(lp.TodoExclude))
	if err != nil {
		return fmt.Errorf("index: add linked: %w", err)
	}
	return nil
}

// RemoveLinked unregisters a linked path. Its notes disappear on the next index run.
func (db *DB) RemoveLinked(ctx context.Context, p string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM linked_paths WHERE path = ?`, p)
	if err != nil {
		return fmt.Errorf("index: remove linked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: linked %s: %w", p, apperr.ErrNotFound)
	}
	return nil
}

// LinkedPaths lists registered linked paths ordered by path.
func (db *DB) LinkedPaths(ctx context.Context) ([]models.LinkedPath, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, alias, recursive, sync, todo_exclude FROM linked_paths ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: linked paths: %w", err)
	}
	defer rows.Close()
	var out []models.LinkedPath
	for rows.Next() {
		var lp models.LinkedPath
		var rec, sync, excl int
		if err := rows.Scan(&lp.Path, &lp.Alias, &rec, &sync, &excl); err != nil {
			return nil, err
		}
		lp.Recursive, lp.Sync, lp.TodoExclude = rec == 1, sync == 1, excl == 1
		out = append(out, lp)
	}
	return out, rows.Err()
}

// LinkedFor returns the linked registration that owns the absolute note path p.
func (db *DB) LinkedFor(ctx context.Context, p string) (models.LinkedPath, bool, error) {
	all, err := db.LinkedPaths(ctx)
	if err != nil {
		return models.LinkedPath{}, false, err
	}
	// Longest registered prefix wins.
	sort.Slice(all, func(i, j int) bool { return len(all[i].Path) > len(all[j].Path) })
	for _, lp := range all {
		root := strings.TrimSuffix(lp.Path, "/")
		if p == root || strings.HasPrefix(p, root+"/") {
			return lp, true, nil
		}
	}
	return models.LinkedPath{}, false, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilHeadings(h []models.Heading) []models.Heading {
	if h == nil {
		return []models.Heading{}
	}
	return h
}
