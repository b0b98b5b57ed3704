package index

import (
	"context"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

// NoteIndex defines the read and write operations the search, sync and service
// layers need. Consumers should depend on this interface rather than the
// concrete *DB type to facilitate testing with fakes.
type NoteIndex interface {
	ReplaceNote(ctx context.Context, rec NoteRecord) error
	DeleteNote(ctx context.Context, path string) error
	Note(ctx context.Context, path string) (*models.Note, error)
	Notes(ctx context.Context, paths []string) (map[string]models.Note, error)
	Checksums(ctx context.Context) (map[string]string, error)
	Backlinks(ctx context.Context, path string) ([]models.Link, error)
	Links(ctx context.Context, path string) ([]models.Link, error)

	TodoByPrefix(ctx context.Context, prefix string) (*models.Todo, error)
	TodosForPath(ctx context.Context, path string) ([]models.Todo, error)
	ListTodos(ctx context.Context, f models.TodoFilter) ([]models.Todo, error)
	SetTodoStatus(ctx context.Context, path string, lines []int, status models.Status) error

	KeywordSearch(ctx context.Context, query, notebook string, limit int) ([]KeywordHit, error)
	Chunks(ctx context.Context, notebook string) ([]models.Chunk, error)

	AppendHistory(ctx context.Context, path, kind string, at time.Time) error
	History(ctx context.Context, kind string, limit int) ([]models.HistoryEntry, error)

	LinkedFor(ctx context.Context, path string) (models.LinkedPath, bool, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
