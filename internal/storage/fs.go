package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the notes directory

	mu       sync.RWMutex
	external []string // absolute linked roots
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute notes root.
func (f *FS) Root() string { return f.root }

// AllowExternal registers a linked file or directory so absolute paths under it
// can be read and written.
func (f *FS) AllowExternal(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("storage: resolve linked path: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.external {
		if e == abs {
			return nil
		}
	}
	f.external = append(f.external, abs)
	return nil
}

// Resolve maps a note path to an absolute OS path and rejects anything that
// escapes the notes root or a registered linked root.
func (f *FS) Resolve(p string) (string, error) {
	if p == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(cleaned) {
		if f.underExternal(cleaned) {
			return cleaned, nil
		}
		return "", fmt.Errorf("storage: path is not under a linked root: %s", p)
	}
	abs := filepath.Join(f.root, cleaned)
	if !within(abs, f.root) {
		return "", fmt.Errorf("storage: path escapes notes root: %s", p)
	}
	return abs, nil
}

func (f *FS) underExternal(abs string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.external {
		if within(abs, e) {
			return true
		}
	}
	return false
}

func within(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+string(os.PathSeparator))
}

// Read returns the raw bytes of a note file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Stat returns file info for a note file.
func (f *FS) Stat(path string) (fs.FileInfo, error) {
	abs, err := f.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return info, nil
}

// Write atomically writes content: tmp file → fsync → rename.
// An existing file keeps its permission bits.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.Resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".nb-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("storage: chmod: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
