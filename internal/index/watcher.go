package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted", "reconciled".
type EventCallback func(kind string, path string)

// WatchOptions configures Watch.
type WatchOptions struct {
	ReservedDir string        // never watched, e.g. ".nb"
	Debounce    time.Duration // delay before a reconcile run; 200ms when zero
}

// Watch starts an fsnotify watcher on the notes root and reindexes changed
// notes until ctx is cancelled. It calls cb (if non-nil) after each successful
// index mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Renames and new directories trigger a debounced Run that reconciles
// the whole tree.
func Watch(ctx context.Context, ix *Indexer, opts WatchOptions, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := ix.root
	logger := ix.logger
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	if err := addDirsRecursive(w, root, opts.ReservedDir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(debounce)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(debounce)
		}
	}

	emit := func(kind, p string) {
		if cb != nil {
			cb(kind, p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			rep, err := ix.Run(ctx)
			if err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				continue
			}
			if rep.Added+rep.Modified+rep.Deleted > 0 {
				emit("reconciled", "")
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name
			if opts.ReservedDir != "" && strings.Contains(filepath.ToSlash(absPath), "/"+opts.ReservedDir+"/") {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath, opts.ReservedDir); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					scheduleReconcile()
					continue
				}
			}

			if !strings.EqualFold(filepath.Ext(absPath), ".md") || strings.HasPrefix(filepath.Base(absPath), ".") {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if _, idxErr := ix.Reindex(ctx, rel); idxErr != nil {
					if errors.Is(idxErr, apperr.ErrNotFound) {
						continue
					}
					logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
				emit(kind, rel)

			case ev.Op&fsnotify.Remove != 0:
				if delErr := ix.Remove(ctx, rel); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				emit("deleted", rel)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only. The new path
				// arrives as a Create if it stays inside a watched dir.
				if delErr := ix.Remove(ctx, rel); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
				} else {
					emit("deleted", rel)
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root, reserved string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == reserved) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
