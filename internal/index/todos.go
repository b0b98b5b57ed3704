package index

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/models"
)

var hexPrefixRe = regexp.MustCompile(`^[0-9a-f]+$`)

const todoColumns = `t.id, t.path, t.notebook, t.line, t.depth, t.content, t.status, t.due, t.due_has_time,
	t.priority, t.tags, t.section, t.parent_id, t.details`

func scanTodo(sc interface{ Scan(...any) error }, extra ...any) (models.Todo, error) {
	var (
		t             models.Todo
		status        string
		due           sql.NullString
		dueTime       int
		tags, section string
	)
	dest := append([]any{&t.ID, &t.Path, &t.Notebook, &t.Line, &t.Depth, &t.Content, &status, &due, &dueTime,
		&t.Priority, &tags, &section, &t.ParentID, &t.Details}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return t, err
	}
	t.Status = models.Status(status)
	t.DueTime = dueTime == 1
	if due.Valid {
		if d, ok := parseDue(due.String); ok {
			t.Due = &d
		}
	}
	what := fmt.Sprintf("todo %s at %s:%d", t.ID, t.Path, t.Line)
	if err := decodeColumn(what, "tags", tags, &t.Tags); err != nil {
		return t, err
	}
	if err := decodeColumn(what, "section", section, &t.Section); err != nil {
		return t, err
	}
	return t, nil
}

// TodoByPrefix resolves an ID prefix to exactly one todo. Zero matches yield
// apperr.ErrNotFound, several distinct IDs an *apperr.AmbiguousError, and a todo
// whose note row is missing an *apperr.CorruptError.
func (db *DB) TodoByPrefix(ctx context.Context, prefix string) (*models.Todo, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || !hexPrefixRe.MatchString(prefix) {
		return nil, fmt.Errorf("index: todo %q: %w", prefix, apperr.ErrNotFound)
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+todoColumns+`, n.path IS NULL
		FROM todos t LEFT JOIN notes n ON n.path = t.path
		WHERE t.id >= ? AND t.id < ?
		ORDER BY t.id, t.path, t.line
	`, prefix, prefix+"g")
	if err != nil {
		return nil, fmt.Errorf("index: todo by prefix: %w", err)
	}
	defer rows.Close()

	var (
		first   *models.Todo
		orphan  bool
		ids     []string
		seenIDs = map[string]bool{}
	)
	for rows.Next() {
		var missing bool
		t, err := scanTodo(rows, &missing)
		if err != nil {
			return nil, fmt.Errorf("index: scan todo: %w", err)
		}
		if !seenIDs[t.ID] {
			seenIDs[t.ID] = true
			ids = append(ids, t.ID)
		}
		if first == nil {
			first, orphan = &t, missing
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(ids) == 0:
		return nil, fmt.Errorf("index: todo %q: %w", prefix, apperr.ErrNotFound)
	case len(ids) > 1:
		return nil, &apperr.AmbiguousError{Prefix: prefix, Candidates: ids}
	case orphan:
		return nil, &apperr.CorruptError{Detail: fmt.Sprintf("todo %s references missing note %s", first.ID, first.Path)}
	}
	return first, nil
}

// TodosForPath returns a note's todos in line order.
func (db *DB) TodosForPath(ctx context.Context, p string) ([]models.Todo, error) {
	return db.ListTodos(ctx, models.TodoFilter{Path: p, IncludeExcluded: true})
}

// ListTodos returns todos matching f ordered by due date (undated last), priority
// (unset last), path and line.
func (db *DB) ListTodos(ctx context.Context, f models.TodoFilter) ([]models.Todo, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		where = append(where, `t.status IN (`+placeholders(len(f.Statuses))+`)`)
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.Notebook != "" {
		where = append(where, `t.notebook = ?`)
		args = append(args, f.Notebook)
	}
	if f.Path != "" {
		where = append(where, `t.path = ?`)
		args = append(args, f.Path)
	}
	for _, tag := range f.Tags {
		where = append(where, `EXISTS (SELECT 1 FROM todo_tags tt WHERE tt.path = t.path AND tt.line = t.line AND tt.tag = ?)`)
		args = append(args, strings.ToLower(strings.TrimPrefix(tag, "#")))
	}
	if f.DueBefore != nil {
		where = append(where, `t.due IS NOT NULL AND t.due <= ?`)
		args = append(args, formatDue(*f.DueBefore))
	}
	if f.DueAfter != nil {
		where = append(where, `t.due IS NOT NULL AND t.due >= ?`)
		args = append(args, formatDue(*f.DueAfter))
	}
	if f.Overdue {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		where = append(where, `t.due IS NOT NULL AND t.due < ? AND t.status <> ?`)
		args = append(args, formatDue(today), string(models.StatusCompleted))
	}
	if f.Priority > 0 {
		where = append(where, `t.priority = ?`)
		args = append(args, f.Priority)
	}
	if f.Contains != "" {
		where = append(where, `t.content LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.Contains)+"%")
	}
	if !f.IncludeExcluded && f.Path == "" {
		where = append(where, `COALESCE(n.todo_exclude, 0) = 0`)
	}

	q := `SELECT ` + todoColumns + `, n.path IS NULL FROM todos t LEFT JOIN notes n ON n.path = t.path`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY t.due IS NULL, t.due, t.priority = 0, t.priority, t.path, t.line`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list todos: %w", err)
	}
	defer rows.Close()
	var out []models.Todo
	for rows.Next() {
		var missing bool
		t, err := scanTodo(rows, &missing)
		if err != nil {
			return nil, fmt.Errorf("index: scan todo: %w", err)
		}
		if missing {
			return nil, &apperr.CorruptError{Detail: fmt.Sprintf("todo %s references missing note %s", t.ID, t.Path)}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTodoStatus updates the status of the todos on lines of p without touching
// the note. Used for linked notes that are not synced back to disk.
func (db *DB) SetTodoStatus(ctx context.Context, p string, lines []int, status models.Status) error {
	if len(lines) == 0 {
		return nil
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, line := range lines {
		res, err := tx.ExecContext(ctx, `UPDATE todos SET status = ? WHERE path = ? AND line = ?`, string(status), p, line)
		if err != nil {
			return fmt.Errorf("index: set todo status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("index: todo %s:%d: %w", p, line, apperr.ErrNotFound)
		}
	}
	return tx.Commit()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
