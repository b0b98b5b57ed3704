// Package apperr defines the error taxonomy shared by the index, search and sync layers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrAmbiguous     = errors.New("ambiguous reference")

	// ErrBackendUnavailable marks a search that fell back to keyword-only ranking.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")

	// ErrCorruptCache means the derived index disagrees with itself; only a rebuild recovers.
	ErrCorruptCache = errors.New("index cache corrupt")
)

// AmbiguousError reports a todo ID prefix that matched more than one row.
type AmbiguousError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous id prefix %q matches %d todos: %s",
		e.Prefix, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousError) Is(target error) bool { return target == ErrAmbiguous }

// ConflictError reports a source file that changed since it was last read.
type ConflictError struct {
	Path   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s (re-sync required)", e.Path, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// CorruptError describes the inconsistency found while reading the cache.
type CorruptError struct {
	Detail string
}

func (e *CorruptError) Error() string {
	return "index cache corrupt: " + e.Detail + " (run a full reindex)"
}

func (e *CorruptError) Is(target error) bool { return target == ErrCorruptCache }

// FileError is a per-file failure that does not abort a batch.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }
