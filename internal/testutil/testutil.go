// Package testutil provides shared test helpers for setting up note trees,
// databases and a fully wired service.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thomas-villani/nb-sub001/internal/index"
	"github.com/thomas-villani/nb-sub001/internal/noteservice"
	"github.com/thomas-villani/nb-sub001/internal/scanner"
	"github.com/thomas-villani/nb-sub001/internal/search"
	"github.com/thomas-villani/nb-sub001/internal/storage"
	"github.com/thomas-villani/nb-sub001/internal/syncer"
)

// Now is the fixed clock used by Env.
var Now = time.Date(2025, 11, 19, 10, 30, 0, 0, time.UTC)

// QuietLogger discards all output.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "nb-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestNotes creates a temporary notes root with a storage provider.
func TestNotes(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// WriteNote writes content under dir and returns the absolute path.
func WriteNote(t *testing.T, dir, rel, content string) string {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return abs
}

// Env is a wired service over a temporary notes root.
type Env struct {
	Root    string
	Store   *storage.FS
	DB      *index.DB
	Indexer *index.Indexer
	Ranker  *search.Ranker
	Syncer  *syncer.Syncer
	Service *noteservice.Service
}

// NewEnv builds an Env with keyword-only search, the fixed clock and the
// reserved directory ".nb".
func NewEnv(t *testing.T, opts syncer.Options) *Env {
	t.Helper()
	root, store := TestNotes(t)
	db := TestDB(t)
	logger := QuietLogger()
	clock := func() time.Time { return Now }

	sc := scanner.New(scanner.Options{ReservedDir: ".nb"}, logger)
	ix := index.NewIndexer(db, store, sc, store.Root(), index.WithClock(clock), index.WithLogger(logger))
	ranker := search.NewRanker(db, nil, search.DefaultConfig(), search.WithClock(clock), search.WithLogger(logger))
	sy := syncer.New(ix, store, opts, logger)
	svc := noteservice.NewService(store, ix, ranker, sy).WithClock(clock)

	return &Env{Root: root, Store: store, DB: db, Indexer: ix, Ranker: ranker, Syncer: sy, Service: svc}
}
