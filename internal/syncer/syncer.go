// Package syncer writes todo status changes back to the markdown files they came
// from and keeps the index in step.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/checksum"
	"github.com/thomas-villani/nb-sub001/internal/extract"
	"github.com/thomas-villani/nb-sub001/internal/index"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/storage"
)

// Options configures a Syncer.
type Options struct {
	// AutoCompleteChildren cascades completion to every unfinished descendant.
	AutoCompleteChildren bool
}

// Result describes a committed status change.
type Result struct {
	Todo     models.Todo   `json:"todo"`
	Cascaded []models.Todo `json:"cascaded,omitempty"`
	// Written is false when only the index changed (linked notes without sync).
	Written bool `json:"written"`
}

// Syncer applies status changes. Changes to the same file are serialized.
type Syncer struct {
	ix     *index.Indexer
	store  storage.Provider
	opts   Options
	logger *slog.Logger

	locks sync.Map // path -> *sync.Mutex
}

// New creates a Syncer.
func New(ix *index.Indexer, store storage.Provider, opts Options, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{ix: ix, store: store, opts: opts, logger: logger}
}

func (s *Syncer) lock(p string) func() {
	m, _ := s.locks.LoadOrStore(p, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Next returns the status a plain toggle moves to: finished todos reopen,
// everything else completes.
func Next(s models.Status) models.Status {
	if s.Done() {
		return models.StatusPending
	}
	return models.StatusCompleted
}

// Toggle flips the todo matching prefix between open and completed.
func (s *Syncer) Toggle(ctx context.Context, prefix string) (*Result, error) {
	todo, err := s.ix.DB().TodoByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return s.SetStatus(ctx, todo.ID, Next(todo.Status))
}

// SetStatus moves the todo matching prefix to status, rewriting its checkbox
// marker in the source file. Prefix resolution errors (not found, ambiguous,
// corrupt cache) are returned unchanged.
func (s *Syncer) SetStatus(ctx context.Context, prefix string, status models.Status) (*Result, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("syncer: invalid status %q", status)
	}
	db := s.ix.DB()
	todo, err := db.TodoByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(todo.Path)
	defer unlock()

	note, err := db.Note(ctx, todo.Path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, &apperr.CorruptError{Detail: fmt.Sprintf("todo %s references missing note %s", todo.ID, todo.Path)}
		}
		return nil, err
	}

	if note.External {
		lp, ok, err := s.ix.LinkedFor(ctx, note.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &apperr.ConflictError{Path: note.Path, Reason: "linked path is no longer registered"}
		}
		if !lp.Sync {
			return s.indexOnly(ctx, todo, status)
		}
		// Registers linked roots with the store before reading.
		if _, err := s.ix.Roots(ctx); err != nil {
			return nil, err
		}
	}

	data, err := s.store.Read(todo.Path)
	if err != nil {
		return nil, fmt.Errorf("syncer: read %s: %w", todo.Path, err)
	}
	if checksum.Sum(data) != note.Checksum {
		if note.External {
			return nil, &apperr.ConflictError{Path: todo.Path, Reason: "file changed since it was last indexed"}
		}
		// Notes under the root are the source of truth: catch up, then
		// locate the same todo again.
		if todo, data, err = s.refresh(ctx, todo); err != nil {
			return nil, err
		}
	}

	todos, err := db.TodosForPath(ctx, todo.Path)
	if err != nil {
		return nil, err
	}
	targets := s.targets(todos, todo, status)

	updated, err := rewrite(data, targets, status)
	if err != nil {
		return nil, &apperr.ConflictError{Path: todo.Path, Reason: err.Error()}
	}
	written := false
	if updated != string(data) {
		if err := s.store.Write(todo.Path, []byte(updated)); err != nil {
			return nil, fmt.Errorf("syncer: write %s: %w", todo.Path, err)
		}
		written = true
	}

	rec, err := s.ix.Reindex(ctx, todo.Path)
	if err != nil {
		return nil, err
	}
	s.logger.Info("syncer: status changed",
		slog.String("path", todo.Path),
		slog.String("id", todo.ID),
		slog.String("status", string(status)),
		slog.Int("cascaded", len(targets)-1),
	)
	return result(rec.Todos, targets, written), nil
}

// refresh reindexes a note that changed on disk and finds todo in the new rows.
func (s *Syncer) refresh(ctx context.Context, todo *models.Todo) (*models.Todo, []byte, error) {
	if _, err := s.ix.Reindex(ctx, todo.Path); err != nil {
		return nil, nil, err
	}
	fresh, err := s.ix.DB().TodoByPrefix(ctx, todo.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil, &apperr.ConflictError{Path: todo.Path, Reason: "todo " + todo.ID + " changed on disk"}
		}
		return nil, nil, err
	}
	data, err := s.store.Read(fresh.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("syncer: read %s: %w", fresh.Path, err)
	}
	return fresh, data, nil
}

// indexOnly applies the change to the index without touching the file.
func (s *Syncer) indexOnly(ctx context.Context, todo *models.Todo, status models.Status) (*Result, error) {
	todos, err := s.ix.DB().TodosForPath(ctx, todo.Path)
	if err != nil {
		return nil, err
	}
	targets := s.targets(todos, todo, status)
	lines := make([]int, len(targets))
	for i, t := range targets {
		lines[i] = t.Line
	}
	if err := s.ix.DB().SetTodoStatus(ctx, todo.Path, lines, status); err != nil {
		return nil, err
	}
	after, err := s.ix.DB().TodosForPath(ctx, todo.Path)
	if err != nil {
		return nil, err
	}
	return result(after, targets, false), nil
}

// targets returns todo followed by the descendants a completion cascades to.
func (s *Syncer) targets(todos []models.Todo, todo *models.Todo, status models.Status) []models.Todo {
	out := []models.Todo{*todo}
	if !s.opts.AutoCompleteChildren || status != models.StatusCompleted {
		return out
	}
	for _, d := range Descendants(todos, todo.ID) {
		if !d.Status.Done() {
			out = append(out, d)
		}
	}
	return out
}

// Descendants returns every todo nested under id, following ParentID links.
func Descendants(todos []models.Todo, id string) []models.Todo {
	parent := make(map[string]string, len(todos))
	for _, t := range todos {
		parent[t.ID] = t.ParentID
	}
	var out []models.Todo
	for _, t := range todos {
		for p, hops := t.ParentID, 0; p != "" && hops <= len(todos); p, hops = parent[p], hops+1 {
			if p == id {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// rewrite replaces the checkbox marker on each target line and leaves every
// other byte alone.
func rewrite(data []byte, targets []models.Todo, status models.Status) (string, error) {
	lines := strings.SplitAfter(string(data), "\n")
	for _, t := range targets {
		i := t.Line - 1
		if i < 0 || i >= len(lines) {
			return "", fmt.Errorf("line %d is out of range", t.Line)
		}
		line := lines[i]
		bom := ""
		if i == 0 && strings.HasPrefix(line, "\ufeff") {
			bom, line = "\ufeff", strings.TrimPrefix(line, "\ufeff")
		}
		body := strings.TrimSuffix(line, "\n")
		next, ok := extract.ReplaceMarker(body, status)
		if !ok {
			return "", fmt.Errorf("line %d is no longer a todo", t.Line)
		}
		lines[i] = bom + next + line[len(body):]
	}
	return strings.Join(lines, ""), nil
}

func result(fresh []models.Todo, targets []models.Todo, written bool) *Result {
	byLine := make(map[int]models.Todo, len(fresh))
	for _, t := range fresh {
		byLine[t.Line] = t
	}
	res := &Result{Todo: byLine[targets[0].Line], Written: written}
	for _, t := range targets[1:] {
		res.Cascaded = append(res.Cascaded, byLine[t.Line])
	}
	return res
}
