package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/checksum"
	"github.com/thomas-villani/nb-sub001/internal/chunker"
	"github.com/thomas-villani/nb-sub001/internal/embed"
	"github.com/thomas-villani/nb-sub001/internal/extract"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/parser"
	"github.com/thomas-villani/nb-sub001/internal/scanner"
	"github.com/thomas-villani/nb-sub001/internal/storage"
)

// Report summarizes one indexing run.
type Report struct {
	Added     int                 `json:"added"`
	Modified  int                 `json:"modified"`
	Deleted   int                 `json:"deleted"`
	Unchanged int                 `json:"unchanged"`
	Errors    []*apperr.FileError `json:"-"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// externalRegistrar is implemented by storage providers that gate access to
// linked roots.
type externalRegistrar interface {
	AllowExternal(p string) error
}

// Indexer brings the index up to date with the notes tree and linked paths.
type Indexer struct {
	db       *DB
	store    storage.Provider
	scanner  *scanner.Scanner
	chunker  *chunker.Chunker
	embedder embed.Provider
	root     string
	linked   []models.LinkedPath
	workers  int
	now      func() time.Time
	logger   *slog.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithChunker enables chunk extraction for vector search.
func WithChunker(c *chunker.Chunker) IndexerOption { return func(ix *Indexer) { ix.chunker = c } }

// WithEmbedder sets the provider used to embed chunks. Requires a chunker.
func WithEmbedder(p embed.Provider) IndexerOption { return func(ix *Indexer) { ix.embedder = p } }

// WithLinked adds linked paths from configuration. Registrations stored in the
// index are always included.
func WithLinked(lp []models.LinkedPath) IndexerOption {
	return func(ix *Indexer) { ix.linked = append(ix.linked, lp...) }
}

// WithWorkers bounds parallel extraction.
func WithWorkers(n int) IndexerOption { return func(ix *Indexer) { ix.workers = n } }

// WithClock overrides time.Now, used for relative due dates and history.
func WithClock(now func() time.Time) IndexerOption { return func(ix *Indexer) { ix.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) IndexerOption { return func(ix *Indexer) { ix.logger = l } }

// NewIndexer creates an Indexer for the notes tree at root.
func NewIndexer(db *DB, store storage.Provider, sc *scanner.Scanner, root string, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		db:      db,
		store:   store,
		scanner: sc,
		root:    root,
		workers: 4,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(ix)
	}
	if ix.workers <= 0 {
		ix.workers = 1
	}
	return ix
}

// DB returns the underlying index.
func (ix *Indexer) DB() *DB { return ix.db }

// Roots returns the notes root plus every linked path, deduplicated. Linked
// roots are registered with the storage provider.
func (ix *Indexer) Roots(ctx context.Context) ([]scanner.Root, error) {
	stored, err := ix.db.LinkedPaths(ctx)
	if err != nil {
		return nil, err
	}
	roots := []scanner.Root{{Path: ix.root, Recursive: true}}
	seen := map[string]bool{}
	for _, lp := range append(append([]models.LinkedPath{}, ix.linked...), stored...) {
		abs, err := filepath.Abs(lp.Path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if reg, ok := ix.store.(externalRegistrar); ok {
			if err := reg.AllowExternal(abs); err != nil {
				return nil, err
			}
		}
		roots = append(roots, scanner.Root{
			Path:        abs,
			Notebook:    linkedNotebook(lp, abs),
			Recursive:   lp.Recursive,
			External:    true,
			TodoExclude: lp.TodoExclude,
		})
	}
	return roots, nil
}

func linkedNotebook(lp models.LinkedPath, abs string) string {
	if lp.Alias != "" {
		return lp.Alias
	}
	return "@" + filepath.Base(abs)
}

// Scan compares every root against the index without changing it.
func (ix *Indexer) Scan(ctx context.Context) (*scanner.ChangeSet, error) {
	cs, _, err := ix.scan(ctx)
	return cs, err
}

// scan also returns the stored checksums the change set was computed against.
func (ix *Indexer) scan(ctx context.Context) (*scanner.ChangeSet, map[string]string, error) {
	roots, err := ix.Roots(ctx)
	if err != nil {
		return nil, nil, err
	}
	known, err := ix.db.Checksums(ctx)
	if err != nil {
		return nil, nil, err
	}
	cs, err := ix.scanner.Scan(ctx, roots, known)
	return cs, known, err
}

// Run scans every root and commits the changes. Files are prepared in parallel;
// commits are serialized, one transaction per file. A file whose stored checksum
// moved since the scan (a concurrent status sync or reindex) is skipped with a
// warning and picked up by the next run. Cancelling ctx stops before the next
// commit; files already committed stay committed.
func (ix *Indexer) Run(ctx context.Context) (*Report, error) {
	cs, known, err := ix.scan(ctx)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Unchanged: cs.Count(scanner.Unchanged),
		Errors:    cs.Errors,
	}
	pending := cs.Pending()
	records := make([]*NoteRecord, len(pending))
	warnings := make([][]string, len(pending))
	fileErrs := make([]error, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, c := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, warns, err := ix.prepare(gctx, c.File)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				fileErrs[i] = err
				return nil
			}
			records[i], warnings[i] = rec, warns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, fmt.Errorf("index: prepare: %w", err)
	}

	now := ix.now()
	for i, c := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if fileErrs[i] != nil {
			ix.logger.Warn("index: read failed", slog.String("path", c.Path), slog.String("error", fileErrs[i].Error()))
			rep.Errors = append(rep.Errors, &apperr.FileError{Path: c.Path, Err: fileErrs[i]})
			continue
		}
		err := ix.db.CommitNote(ctx, *records[i], CommitOptions{Guard: true, Expected: known[c.Path], ModifiedAt: now})
		if errors.Is(err, ErrStale) {
			ix.logger.Warn("index: changed during run, skipped", slog.String("path", c.Path))
			rep.Warnings = append(rep.Warnings, c.Path+": changed during index run, skipped")
			continue
		}
		if err != nil {
			return rep, err
		}
		for _, w := range warnings[i] {
			rep.Warnings = append(rep.Warnings, c.Path+": "+w)
		}
		if c.Action == scanner.Added {
			rep.Added++
		} else {
			rep.Modified++
		}
		ix.logger.Debug("index: committed", slog.String("path", c.Path), slog.String("action", string(c.Action)))
	}

	for _, c := range cs.Changes {
		if c.Action != scanner.Deleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := ix.db.DeleteNote(ctx, c.Path); err != nil {
			return rep, err
		}
		rep.Deleted++
		ix.logger.Debug("index: removed", slog.String("path", c.Path))
	}

	for _, fe := range cs.Errors {
		ix.logger.Warn("index: skipped file", slog.String("path", fe.Path), slog.String("error", fe.Err.Error()))
	}
	ix.logger.Info("index: run complete",
		slog.Int("added", rep.Added),
		slog.Int("modified", rep.Modified),
		slog.Int("deleted", rep.Deleted),
		slog.Int("unchanged", rep.Unchanged),
		slog.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}

// Rebuild clears all derived data and indexes everything from scratch. History,
// the embedding cache and linked registrations are kept.
func (ix *Indexer) Rebuild(ctx context.Context) (*Report, error) {
	if err := ix.db.Reset(ctx); err != nil {
		return nil, err
	}
	return ix.Run(ctx)
}

// Reindex re-reads one note and replaces its rows. A missing file is removed
// from the index and reported as not found. The commit is retried when another
// writer replaced the note between the read and the commit.
func (ix *Indexer) Reindex(ctx context.Context, notePath string) (*NoteRecord, error) {
	f, err := ix.fileFor(ctx, notePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if delErr := ix.db.DeleteNote(ctx, notePath); delErr != nil {
				return nil, delErr
			}
			return nil, fmt.Errorf("index: reindex %s: %w", notePath, apperr.ErrNotFound)
		}
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		prevSum, err := storedChecksum(ctx, ix.db.conn, notePath)
		if err != nil {
			return nil, err
		}
		rec, warns, err := ix.prepare(ctx, f)
		if err != nil {
			return nil, err
		}
		opts := CommitOptions{Guard: true, Expected: prevSum}
		if prevSum != rec.Note.Checksum {
			opts.ModifiedAt = ix.now()
		}
		err = ix.db.CommitNote(ctx, *rec, opts)
		if errors.Is(err, ErrStale) && attempt < reindexAttempts {
			ix.logger.Debug("index: note replaced concurrently, retrying", slog.String("path", notePath))
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, w := range warns {
			ix.logger.Debug("index: warning", slog.String("path", notePath), slog.String("warning", w))
		}
		return rec, nil
	}
}

const reindexAttempts = 3

// Remove drops a note from the index.
func (ix *Indexer) Remove(ctx context.Context, notePath string) error {
	return ix.db.DeleteNote(ctx, notePath)
}

// LinkedFor returns the linked registration (stored or configured) owning the
// absolute note path p, longest root first.
func (ix *Indexer) LinkedFor(ctx context.Context, p string) (models.LinkedPath, bool, error) {
	lp, ok, err := ix.db.LinkedFor(ctx, p)
	if err != nil || ok {
		return lp, ok, err
	}
	var best models.LinkedPath
	for _, c := range ix.linked {
		abs, err := filepath.Abs(c.Path)
		if err != nil {
			continue
		}
		root := filepath.ToSlash(abs)
		if (p == root || strings.HasPrefix(p, root+"/")) && len(root) > len(best.Path) {
			best, ok = c, true
			best.Path = root
		}
	}
	return best, ok, nil
}

// fileFor builds the scanner view of a single note path.
func (ix *Indexer) fileFor(ctx context.Context, notePath string) (scanner.File, error) {
	f := scanner.File{Path: notePath}
	if filepath.IsAbs(filepath.FromSlash(notePath)) {
		if _, err := ix.Roots(ctx); err != nil {
			return f, err
		}
		lp, ok, err := ix.LinkedFor(ctx, notePath)
		if err != nil {
			return f, err
		}
		if !ok {
			return f, fmt.Errorf("index: %s is not under a linked path: %w", notePath, apperr.ErrNotFound)
		}
		abs, _ := filepath.Abs(lp.Path)
		f.External, f.TodoExclude = true, lp.TodoExclude
		f.Notebook = linkedNotebook(lp, abs)
	} else {
		f.Notebook = scanner.NotebookOf(notePath)
	}
	abs, err := ix.store.Resolve(notePath)
	if err != nil {
		return f, err
	}
	info, err := ix.store.Stat(notePath)
	if err != nil {
		return f, err
	}
	f.AbsPath, f.ModTime = abs, info.ModTime()
	return f, nil
}

// prepare reads, parses, extracts and embeds one file. It touches the index only
// to read the embedding cache.
func (ix *Indexer) prepare(ctx context.Context, f scanner.File) (*NoteRecord, []string, error) {
	data, err := ix.store.Read(f.Path)
	if err != nil {
		return nil, nil, err
	}
	doc := parser.Parse(f.Path, data)
	ext := extract.Todos(doc, extract.Options{Notebook: f.Notebook, Now: ix.now()})

	fm := doc.Frontmatter
	rec := &NoteRecord{
		Note: models.Note{
			Path:        f.Path,
			Notebook:    f.Notebook,
			Title:       doc.Title,
			Date:        fm.Date,
			Tags:        nonNil(fm.Tags),
			TodoExclude: fm.TodoExclude || f.TodoExclude,
			Outline:     doc.Outline,
			Checksum:    checksum.Sum(data),
			External:    f.External,
			ModifiedAt:  f.ModTime,
			Extra:       fm.Extra,
		},
		Body:  doc.Body,
		Todos: ext.Todos,
		Links: doc.Links,
	}
	warnings := append(append([]string{}, doc.Warnings...), ext.Warnings...)

	if ix.chunker == nil {
		return rec, warnings, nil
	}
	first := 1
	if len(doc.Lines) > 0 {
		first = doc.Lines[0].No
	}
	rec.Chunks = ix.chunker.Split(f.Path, []byte(doc.Body), first)
	if ix.embedder != nil && len(rec.Chunks) > 0 {
		if err := ix.embedChunks(ctx, rec); err != nil {
			// Chunks are stored without vectors; keyword search still covers the note.
			ix.logger.Warn("index: embedding failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			warnings = append(warnings, err.Error())
		}
	}
	return rec, warnings, nil
}

// embedChunks fills chunk vectors from the cache and embeds the rest in one batch.
func (ix *Indexer) embedChunks(ctx context.Context, rec *NoteRecord) error {
	model := ix.embedder.Model()
	hashes := make([]string, len(rec.Chunks))
	for i, c := range rec.Chunks {
		hashes[i] = checksum.Sum([]byte(c.Content))
	}
	cached, err := ix.db.CachedEmbeddings(ctx, model, hashes)
	if err != nil {
		return err
	}

	var (
		missing []int
		texts   []string
	)
	for i := range rec.Chunks {
		if v, ok := cached[hashes[i]]; ok {
			rec.Chunks[i].Vector = v
			continue
		}
		missing = append(missing, i)
		texts = append(texts, rec.Chunks[i].Content)
	}
	rec.EmbeddingModel = model
	if len(texts) == 0 {
		return nil
	}
	vecs, err := ix.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return err
	}
	for j, i := range missing {
		if j < len(vecs) {
			rec.Chunks[i].Vector = vecs[j]
		}
	}
	return nil
}
