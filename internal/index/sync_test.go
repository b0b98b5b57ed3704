package index

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/checksum"
	"github.com/thomas-villani/nb-sub001/internal/chunker"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/scanner"
	"github.com/thomas-villani/nb-sub001/internal/storage"
)

var testNow = time.Date(2025, 11, 19, 10, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestIndexer(t *testing.T, root string, opts ...IndexerOption) *Indexer {
	t.Helper()
	store, err := storage.NewFS(root)
	require.NoError(t, err)
	sc := scanner.New(scanner.Options{ReservedDir: ".nb"}, quietLogger())
	base := []IndexerOption{WithClock(func() time.Time { return testNow }), WithLogger(quietLogger())}
	return NewIndexer(testDB(t), store, sc, store.Root(), append(base, opts...)...)
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

const planNote = `Kickoff notes.

## Milestones

- [ ] Ship release @due(2025-12-01) @priority(1) #launch
`

func TestIndexerEndToEnd(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, "work/plan.md", planNote)
	ix := newTestIndexer(t, root)

	rep, err := ix.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Added)

	todos, err := ix.DB().ListTodos(ctx, models.TodoFilter{})
	require.NoError(t, err)
	require.Len(t, todos, 1)
	td := todos[0]
	assert.Equal(t, models.StatusPending, td.Status)
	assert.Equal(t, "Ship release", td.Content)
	require.NotNil(t, td.Due)
	assert.Equal(t, "2025-12-01", td.Due.Format("2006-01-02"))
	assert.Equal(t, 1, td.Priority)
	assert.Equal(t, []string{"launch"}, td.Tags)
	assert.Equal(t, []string{"Milestones"}, td.Section)
	assert.Equal(t, "work", td.Notebook)

	n, err := ix.DB().Note(ctx, "work/plan.md")
	require.NoError(t, err)
	assert.Equal(t, "plan", n.Title)
	assert.Equal(t, []models.Heading{{Level: 2, Text: "Milestones", Line: 3}}, n.Outline)
	assert.Equal(t, "work", n.Notebook)
}

func TestIndexerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, "work/plan.md", planNote)
	writeNote(t, root, "todo.md", "---\ntags: [project, urgent]\n---\n- [ ] a #x\n  - [^] b\n")
	ix := newTestIndexer(t, root)

	_, err := ix.Run(ctx)
	require.NoError(t, err)
	first, err := ix.DB().ListTodos(ctx, models.TodoFilter{})
	require.NoError(t, err)

	rep, err := ix.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Unchanged)
	assert.Zero(t, rep.Added+rep.Modified+rep.Deleted)

	rep, err = ix.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Added)
	second, err := ix.DB().ListTodos(ctx, models.TodoFilter{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var inherited models.Todo
	for _, td := range second {
		if td.Content == "b" {
			inherited = td
		}
	}
	assert.Equal(t, []string{"project", "urgent"}, inherited.Tags)
	assert.NotEmpty(t, inherited.ParentID)
}

func TestIndexerModifyAndDelete(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, "a.md", "- [ ] one\n")
	writeNote(t, root, "b.md", "links to [[a]]\n")
	ix := newTestIndexer(t, root)
	_, err := ix.Run(ctx)
	require.NoError(t, err)

	writeNote(t, root, "a.md", "- [ ] one\n- [ ] two\n")
	require.NoError(t, os.Remove(filepath.Join(root, "b.md")))

	rep, err := ix.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Modified)
	assert.Equal(t, 1, rep.Deleted)

	todos, err := ix.DB().TodosForPath(ctx, "a.md")
	require.NoError(t, err)
	assert.Len(t, todos, 2)
	bl, err := ix.DB().Backlinks(ctx, "a.md")
	require.NoError(t, err)
	assert.Empty(t, bl)

	hist, err := ix.DB().History(ctx, models.HistoryModified, 10)
	require.NoError(t, err)
	paths := map[string]int{}
	for _, h := range hist {
		paths[h.Path]++
	}
	assert.Equal(t, 2, paths["a.md"])
	assert.Equal(t, 1, paths["b.md"])
}

func TestIndexerSkipsReservedDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, ".nb/cache.md", "- [ ] not a note\n")
	writeNote(t, root, "real.md", "- [ ] real\n")
	ix := newTestIndexer(t, root)

	rep, err := ix.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Added)
}

func TestIndexerLinkedDirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	ext := t.TempDir()
	writeNote(t, ext, "roadmap.md", "- [ ] external task\n")
	writeNote(t, ext, "deep/skip.md", "- [ ] nested\n")

	ix := newTestIndexer(t, root, WithLinked([]models.LinkedPath{{Path: ext, Alias: "docs", TodoExclude: true}}))
	rep, err := ix.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Added)

	notePath := filepath.ToSlash(filepath.Join(ext, "roadmap.md"))
	n, err := ix.DB().Note(ctx, notePath)
	require.NoError(t, err)
	assert.True(t, n.External)
	assert.Equal(t, "docs", n.Notebook)

	hidden, err := ix.DB().ListTodos(ctx, models.TodoFilter{})
	require.NoError(t, err)
	assert.Empty(t, hidden)
	todos, err := ix.DB().ListTodos(ctx, models.TodoFilter{IncludeExcluded: true})
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "docs", todos[0].Notebook)

	writeNote(t, ext, "roadmap.md", "- [x] external task\n")
	rec, err := ix.Reindex(ctx, notePath)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Todos[0].Status)
}

func TestIndexerReindexMissingFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, "gone.md", "- [ ] x\n")
	ix := newTestIndexer(t, root)
	_, err := ix.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.md")))
	_, err = ix.Reindex(ctx, "gone.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = ix.DB().Note(ctx, "gone.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// interleavedStore calls before once, ahead of the first read of path.
type interleavedStore struct {
	storage.Provider
	path   string
	once   sync.Once
	before func()
}

func (s *interleavedStore) Read(p string) ([]byte, error) {
	if p == s.path {
		s.once.Do(s.before)
	}
	return s.Provider.Read(p)
}

func TestIndexerReindexRetriesAfterConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, "a.md", "- [ ] x\n")
	ix := newTestIndexer(t, root)
	_, err := ix.Run(ctx)
	require.NoError(t, err)

	writeNote(t, root, "a.md", "- [ ] y\n")
	var replaceErr error
	ix.store = &interleavedStore{Provider: ix.store, path: "a.md", before: func() {
		replaceErr = ix.db.ReplaceNote(ctx, record("a.md", "other writer"))
	}}

	rec, err := ix.Reindex(ctx, "a.md")
	require.NoError(t, err)
	require.NoError(t, replaceErr)
	assert.Equal(t, checksum.Sum([]byte("- [ ] y\n")), rec.Note.Checksum)

	n, err := ix.DB().Note(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, rec.Note.Checksum, n.Checksum)
	todos, err := ix.DB().TodosForPath(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "y", todos[0].Content)

	hist, err := ix.DB().History(ctx, models.HistoryModified, 10)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestIndexerCancelledBeforeCommit(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "- [ ] x\n")
	ix := newTestIndexer(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	sums, err := ix.DB().Checksums(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sums)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	v, err := f.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("backend down")
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		out[i] = []float32{float32(len(s)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }
func (f *fakeEmbedder) Model() string  { return "fake" }

func TestIndexerEmbedsChunksWithCache(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, "a.md", "# A\n\nFirst paragraph.\n\nSecond paragraph.\n")
	ch, err := chunker.New(chunker.Paragraph, 0)
	require.NoError(t, err)
	emb := &fakeEmbedder{}
	ix := newTestIndexer(t, root, WithChunker(ch), WithEmbedder(emb))

	_, err = ix.Run(ctx)
	require.NoError(t, err)
	chunks, err := ix.DB().Chunks(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Len(t, c.Vector, 2)
	}
	assert.Equal(t, 1, emb.calls)

	_, err = ix.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls, "rebuild should reuse cached vectors")
}

func TestIndexerEmbeddingFailureKeepsNote(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeNote(t, root, "a.md", "Some text.\n")
	ch, err := chunker.New(chunker.Paragraph, 0)
	require.NoError(t, err)
	ix := newTestIndexer(t, root, WithChunker(ch), WithEmbedder(&fakeEmbedder{fail: true}))

	rep, err := ix.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Added)
	assert.NotEmpty(t, rep.Warnings)

	chunks, err := ix.DB().Chunks(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
