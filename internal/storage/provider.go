// Package storage defines the note file-system abstraction.
package storage

import "io/fs"

// Provider is the interface for note file operations. Paths are either relative
// to the notes root or absolute paths under a registered linked root.
type Provider interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
	// Resolve returns the absolute OS path for path.
	Resolve(path string) (string, error)
}
