// Package scanner walks note roots and reports which markdown files were added,
// modified or deleted relative to the fingerprints already stored in the index.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thomas-villani/nb-sub001/internal/apperr"
	"github.com/thomas-villani/nb-sub001/internal/checksum"
)

// Action is the change detected for one path.
type Action string

const (
	Unchanged Action = "unchanged"
	Added     Action = "added"
	Modified  Action = "modified"
	Deleted   Action = "deleted"
)

// Root is one tree to scan: the notes root or a linked file/directory.
type Root struct {
	Path        string // absolute directory or file
	Notebook    string // fixed notebook name; empty derives it from the first path segment
	Recursive   bool
	External    bool
	TodoExclude bool
}

// File is a markdown file found during a scan.
type File struct {
	Path        string // note path: slash-separated, relative for the notes root, absolute for linked roots
	AbsPath     string
	Notebook    string
	Checksum    string
	ModTime     time.Time
	External    bool
	TodoExclude bool
}

// Change pairs a file with its detected action. Deleted changes only carry Path.
type Change struct {
	File
	Action Action
}

// ChangeSet is the read-only result of a scan.
type ChangeSet struct {
	Changes []Change
	Errors  []*apperr.FileError
}

// Pending returns added and modified changes.
func (cs *ChangeSet) Pending() []Change {
	var out []Change
	for _, c := range cs.Changes {
		if c.Action == Added || c.Action == Modified {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of changes with action a.
func (cs *ChangeSet) Count(a Action) int {
	n := 0
	for _, c := range cs.Changes {
		if c.Action == a {
			n++
		}
	}
	return n
}

// Options configures a Scanner.
type Options struct {
	ReservedDir string   // skipped everywhere, e.g. ".nb"
	Ignore      []string // directory names to skip
	Workers     int
}

// Scanner detects changes. It never writes.
type Scanner struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Scanner.
func New(opts Options, logger *slog.Logger) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{opts: opts, logger: logger}
}

// Scan walks roots, fingerprints every markdown file and compares the result with
// known (path → checksum). Paths in known that belong to a scanned root but were
// not found are reported as deleted. Unreadable files are reported in Errors and
// never marked deleted.
func (s *Scanner) Scan(ctx context.Context, roots []Root, known map[string]string) (*ChangeSet, error) {
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	cs := &ChangeSet{}
	var (
		files   []File
		blocked []string // unreadable directories: nothing under them is deleted
	)
	seenPaths := make(map[string]struct{})
	for _, r := range roots {
		found, errs, dirs := s.walk(r)
		cs.Errors = append(cs.Errors, errs...)
		blocked = append(blocked, dirs...)
		for _, f := range found {
			if _, dup := seenPaths[f.Path]; dup {
				continue
			}
			seenPaths[f.Path] = struct{}{}
			files = append(files, f)
		}
	}

	sums := make([]string, len(files))
	fileErrs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(files[i].AbsPath)
			if err != nil {
				fileErrs[i] = err
				return nil
			}
			sums[i] = checksum.Sum(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}

	failed := make(map[string]struct{})
	for i, f := range files {
		if fileErrs[i] != nil {
			s.logger.Warn("scan: unreadable file", "path", f.Path, "error", fileErrs[i])
			cs.Errors = append(cs.Errors, &apperr.FileError{Path: f.Path, Err: fileErrs[i]})
			failed[f.Path] = struct{}{}
			continue
		}
		f.Checksum = sums[i]
		prev, ok := known[f.Path]
		action := Added
		switch {
		case ok && prev == f.Checksum:
			action = Unchanged
		case ok:
			action = Modified
		}
		cs.Changes = append(cs.Changes, Change{File: f, Action: action})
	}
	for _, e := range cs.Errors {
		failed[e.Path] = struct{}{}
	}

	for p := range known {
		if _, ok := seenPaths[p]; ok {
			continue
		}
		if _, ok := failed[p]; ok {
			continue
		}
		if r, ok := owningRoot(roots, p); ok && !isBlocked(r, p, blocked) {
			cs.Changes = append(cs.Changes, Change{
				File:   File{Path: p, External: r.External, Notebook: r.Notebook},
				Action: Deleted,
			})
		}
	}

	sort.Slice(cs.Changes, func(i, j int) bool { return cs.Changes[i].Path < cs.Changes[j].Path })
	sort.Slice(cs.Errors, func(i, j int) bool { return cs.Errors[i].Path < cs.Errors[j].Path })
	return cs, nil
}

// walk lists markdown files under r. Symlinked directories are followed once;
// a directory whose real path was already visited is skipped.
func (s *Scanner) walk(r Root) ([]File, []*apperr.FileError, []string) {
	info, err := os.Stat(r.Path)
	if err != nil {
		return nil, []*apperr.FileError{{Path: filepath.ToSlash(r.Path), Err: err}}, []string{r.Path}
	}
	if !info.IsDir() {
		if !isMarkdown(info.Name()) {
			return nil, nil, nil
		}
		return []File{s.file(r, r.Path, info.ModTime())}, nil, nil
	}

	var (
		files   []File
		errs    []*apperr.FileError
		blocked []string
		visited = make(map[string]struct{})
	)
	var visit func(dir string)
	visit = func(dir string) {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			errs = append(errs, &apperr.FileError{Path: s.notePath(r, dir), Err: err})
			blocked = append(blocked, dir)
			return
		}
		if _, ok := visited[real]; ok {
			s.logger.Debug("scan: symlink loop truncated", "path", dir)
			return
		}
		visited[real] = struct{}{}

		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, &apperr.FileError{Path: s.notePath(r, dir), Err: err})
			blocked = append(blocked, dir)
			return
		}
		for _, e := range entries {
			name := e.Name()
			full := filepath.Join(dir, name)
			fi, err := os.Stat(full) // follows symlinks
			if err != nil {
				if e.Type()&os.ModeSymlink != 0 {
					continue // dangling link
				}
				errs = append(errs, &apperr.FileError{Path: s.notePath(r, full), Err: err})
				continue
			}
			if fi.IsDir() {
				if !r.Recursive || s.skipDir(name) {
					continue
				}
				visit(full)
				continue
			}
			if strings.HasPrefix(name, ".") || !isMarkdown(name) || !fi.Mode().IsRegular() {
				continue
			}
			files = append(files, s.file(r, full, fi.ModTime()))
		}
	}
	visit(r.Path)
	return files, errs, blocked
}

func isBlocked(r Root, p string, blocked []string) bool {
	abs := filepath.FromSlash(p)
	if !r.External {
		abs = filepath.Join(r.Path, abs)
	}
	for _, b := range blocked {
		if within(abs, b) {
			return true
		}
	}
	return false
}

func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(os.PathSeparator))
}

func (s *Scanner) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") || name == s.opts.ReservedDir {
		return true
	}
	for _, ig := range s.opts.Ignore {
		if name == ig {
			return true
		}
	}
	return false
}

func (s *Scanner) file(r Root, abs string, mod time.Time) File {
	p := s.notePath(r, abs)
	nb := r.Notebook
	if nb == "" && !r.External {
		nb = NotebookOf(p)
	}
	return File{
		Path:        p,
		AbsPath:     abs,
		Notebook:    nb,
		ModTime:     mod,
		External:    r.External,
		TodoExclude: r.TodoExclude,
	}
}

func (s *Scanner) notePath(r Root, abs string) string {
	if r.External {
		return filepath.ToSlash(abs)
	}
	rel, err := filepath.Rel(r.Path, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// NotebookOf returns the first segment of a relative note path, or "" for files
// at the root.
func NotebookOf(notePath string) string {
	if i := strings.Index(notePath, "/"); i > 0 {
		return notePath[:i]
	}
	return ""
}

func isMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

// owningRoot reports which scanned root a stored path belongs to.
func owningRoot(roots []Root, p string) (Root, bool) {
	isAbs := filepath.IsAbs(filepath.FromSlash(p))
	for _, r := range roots {
		if !r.External {
			if !isAbs {
				return r, true
			}
			continue
		}
		rp := filepath.ToSlash(r.Path)
		if p == rp || strings.HasPrefix(p, rp+"/") {
			return r, true
		}
	}
	return Root{}, false
}

// ErrNoRoots is returned when Scan is called without any root.
var ErrNoRoots = errors.New("scanner: no roots")
