// Package noteservice is the query facade shared by the CLI, the REST API and
// the MCP server. It owns no state beyond the handles it is built from.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/index"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/scanner"
	"github.com/thomas-villani/nb-sub001/internal/search"
	"github.com/thomas-villani/nb-sub001/internal/storage"
	"github.com/thomas-villani/nb-sub001/internal/syncer"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	models.Note
	Content   string        `json:"content"`
	Todos     []models.Todo `json:"todos"`
	Backlinks []models.Link `json:"backlinks"`
	Links     []models.Link `json:"links"`
}

// Service coordinates the indexer, ranker and syncer.
type Service struct {
	store  storage.Provider
	ix     *index.Indexer
	ranker *search.Ranker
	syncer *syncer.Syncer
	now    func() time.Time
}

// NewService creates a new note service.
func NewService(store storage.Provider, ix *index.Indexer, ranker *search.Ranker, sy *syncer.Syncer) *Service {
	return &Service{store: store, ix: ix, ranker: ranker, syncer: sy, now: time.Now}
}

// WithClock returns a copy of s that uses now for "viewed" timestamps and
// overdue filtering.
func (s *Service) WithClock(now func() time.Time) *Service {
	c := *s
	c.now = now
	return &c
}

// Scan reports what an index run would change without committing anything.
func (s *Service) Scan(ctx context.Context) (*scanner.ChangeSet, error) {
	return s.ix.Scan(ctx)
}

// Index brings the cache up to date with the notes tree.
func (s *Service) Index(ctx context.Context) (*index.Report, error) {
	return s.ix.Run(ctx)
}

// Rebuild discards derived data and indexes everything again.
func (s *Service) Rebuild(ctx context.Context) (*index.Report, error) {
	return s.ix.Rebuild(ctx)
}

// Reindex refreshes a single note.
func (s *Service) Reindex(ctx context.Context, path string) (*index.NoteRecord, error) {
	return s.ix.Reindex(ctx, path)
}

// Search ranks notes for q.
func (s *Service) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	return s.ranker.Search(ctx, q)
}

// ListTodos returns todos matching f in listing order.
func (s *Service) ListTodos(ctx context.Context, f models.TodoFilter) ([]models.Todo, error) {
	if f.Now.IsZero() {
		f.Now = s.now()
	}
	todos, err := s.ix.DB().ListTodos(ctx, f)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(todos), nil
}

// Toggle flips a todo between open and completed.
func (s *Service) Toggle(ctx context.Context, prefix string) (*syncer.Result, error) {
	return s.syncer.Toggle(ctx, prefix)
}

// SetStatus moves a todo to status.
func (s *Service) SetStatus(ctx context.Context, prefix string, status models.Status) (*syncer.Result, error) {
	return s.syncer.SetStatus(ctx, prefix, status)
}

// Backlinks returns the links pointing at path.
func (s *Service) Backlinks(ctx context.Context, path string) ([]models.Link, error) {
	bl, err := s.ix.DB().Backlinks(ctx, path)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(bl), nil
}

// History returns the newest history entries of kind (all kinds when empty).
func (s *Service) History(ctx context.Context, kind string, limit int) ([]models.HistoryEntry, error) {
	switch kind {
	case "", models.HistoryViewed, models.HistoryModified:
	default:
		return nil, fmt.Errorf("noteservice: unknown history kind %q", kind)
	}
	h, err := s.ix.DB().History(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(h), nil
}

// MarkViewed records that path was opened.
func (s *Service) MarkViewed(ctx context.Context, path string) error {
	if _, err := s.ix.DB().Note(ctx, path); err != nil {
		return err
	}
	return s.ix.DB().AppendHistory(ctx, path, models.HistoryViewed, s.now())
}

// GetNote returns an indexed note with its current content, todos and backlinks.
func (s *Service) GetNote(ctx context.Context, path string) (*NoteDetail, error) {
	db := s.ix.DB()
	note, err := db.Note(ctx, path)
	if err != nil {
		return nil, err
	}
	if note.External {
		if _, err := s.ix.Roots(ctx); err != nil {
			return nil, err
		}
	}
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("noteservice: %s: %w", path, apperr.ErrNotFound)
		}
		return nil, err
	}
	todos, err := db.TodosForPath(ctx, path)
	if err != nil {
		return nil, err
	}
	bl, err := db.Backlinks(ctx, path)
	if err != nil {
		return nil, err
	}
	links, err := db.Links(ctx, path)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Note:      *note,
		Content:   string(data),
		Todos:     nonNilSlice(todos),
		Backlinks: nonNilSlice(bl),
		Links:     links,
	}, nil
}

// TagCounts returns tag usage across notes and todos.
func (s *Service) TagCounts(ctx context.Context) ([]index.TagCount, error) {
	c, err := s.ix.DB().TagCounts(ctx)
	return nonNilSlice(c), err
}

// NotebookCounts returns note and open-todo counts per notebook.
func (s *Service) NotebookCounts(ctx context.Context) ([]index.NotebookCount, error) {
	c, err := s.ix.DB().NotebookCounts(ctx)
	return nonNilSlice(c), err
}

// RecentlyModified returns the most recently modified notes.
func (s *Service) RecentlyModified(ctx context.Context, limit int) ([]models.Note, error) {
	n, err := s.ix.DB().RecentlyModified(ctx, limit)
	return nonNilSlice(n), err
}

// RecentlyViewed returns notes by their latest view.
func (s *Service) RecentlyViewed(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	h, err := s.ix.DB().RecentlyViewed(ctx, limit)
	return nonNilSlice(h), err
}

// LinkedPaths lists the linked files and directories registered at runtime.
func (s *Service) LinkedPaths(ctx context.Context) ([]models.LinkedPath, error) {
	lp, err := s.ix.DB().LinkedPaths(ctx)
	return nonNilSlice(lp), err
}

// RegisterLinked adds an external file or directory and indexes it.
func (s *Service) RegisterLinked(ctx context.Context, lp models.LinkedPath) (*index.Report, error) {
	if strings.TrimSpace(lp.Path) == "" {
		return nil, errors.New("noteservice: linked path is required")
	}
	abs, err := filepath.Abs(lp.Path)
	if err != nil {
		return nil, fmt.Errorf("noteservice: resolve linked path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("noteservice: linked path %s: %w", abs, apperr.ErrNotFound)
		}
		return nil, err
	}
	lp.Path = filepath.ToSlash(abs)
	if err := s.ix.DB().AddLinked(ctx, lp); err != nil {
		return nil, err
	}
	return s.ix.Run(ctx)
}

// UnregisterLinked removes a linked path and drops its notes from the index.
func (s *Service) UnregisterLinked(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("noteservice: resolve linked path: %w", err)
	}
	root := filepath.ToSlash(abs)
	db := s.ix.DB()
	if err := db.RemoveLinked(ctx, root); err != nil {
		return err
	}
	sums, err := db.Checksums(ctx)
	if err != nil {
		return err
	}
	for p := range sums {
		if p == root || strings.HasPrefix(p, strings.TrimSuffix(root, "/")+"/") {
			if err := s.ix.Remove(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
