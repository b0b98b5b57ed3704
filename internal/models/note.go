// Package models defines the domain types shared across the index, search and sync layers.
package models

import "time"

// Note represents one indexed Markdown file.
type Note struct {
	Path         string         `json:"path"`
	Notebook     string         `json:"notebook"`
	Title        string         `json:"title"`
	Date         *time.Time     `json:"date,omitempty"`
	Tags         []string       `json:"tags"`
	TodoExclude  bool           `json:"todo_exclude"`
	Outline      []Heading      `json:"outline"`
	Checksum     string         `json:"checksum"`
	External     bool           `json:"external"`
	ModifiedAt   time.Time      `json:"modified_at"`
	LastViewedAt *time.Time     `json:"last_viewed_at,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Heading is one entry of a note's section outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	Line  int    `json:"line"`
}

// Link types.
const (
	LinkWiki        = "wiki"
	LinkMarkdown    = "markdown"
	LinkFrontmatter = "frontmatter"
)

// Link represents a directed reference from one note to a note or URL.
type Link struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Type     string `json:"type"`
	Line     int    `json:"line"`
	External bool   `json:"external"`
}

// Chunk is an embeddable segment of a note body.
type Chunk struct {
	Path      string    `json:"path"`
	Seq       int       `json:"seq"`
	Heading   string    `json:"heading,omitempty"`
	Content   string    `json:"content"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Vector    []float32 `json:"-"`
}

// History event kinds.
const (
	HistoryViewed   = "viewed"
	HistoryModified = "modified"
)

// HistoryEntry is one row of the append-only history log.
type HistoryEntry struct {
	Path string    `json:"path"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// LinkedPath registers an external file or directory into the index.
type LinkedPath struct {
	Path        string `json:"path" yaml:"path"`
	Alias       string `json:"alias" yaml:"alias"`
	Recursive   bool   `json:"recursive" yaml:"recursive"`
	Sync        bool   `json:"sync" yaml:"sync"`
	TodoExclude bool   `json:"todo_exclude" yaml:"todo_exclude"`
}
