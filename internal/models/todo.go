package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the completion state of a todo.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Checkbox markers, bit-exact.
const (
	MarkerPending    = "- [ ]"
	MarkerInProgress = "- [^]"
	MarkerCompleted  = "- [x]"
)

// Marker returns the checkbox token written to disk for s.
func (s Status) Marker() string {
	switch s {
	case StatusInProgress:
		return MarkerInProgress
	case StatusCompleted:
		return MarkerCompleted
	default:
		return MarkerPending
	}
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Done reports whether the todo is finished.
func (s Status) Done() bool { return s == StatusCompleted }

// ParseStatus accepts the canonical names plus a few CLI-friendly aliases.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "todo", "open", " ":
		return StatusPending, nil
	case "in_progress", "in-progress", "started", "doing", "^":
		return StatusInProgress, nil
	case "completed", "complete", "done", "x":
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("unknown todo status %q", raw)
}

// StatusFromMarker maps a checkbox token to its status.
func StatusFromMarker(marker string) (Status, bool) {
	switch marker {
	case MarkerPending:
		return StatusPending, true
	case MarkerInProgress:
		return StatusInProgress, true
	case MarkerCompleted:
		return StatusCompleted, true
	}
	return "", false
}

// Todo is one checkbox line inside a note.
type Todo struct {
	ID       string     `json:"id"`
	Path     string     `json:"path"`
	Notebook string     `json:"notebook"`
	Line     int        `json:"line"`
	Depth    int        `json:"depth"`
	Content  string     `json:"content"`
	Status   Status     `json:"status"`
	Due      *time.Time `json:"due,omitempty"`
	DueTime  bool       `json:"due_has_time"`
	Priority int        `json:"priority,omitempty"`
	Tags     []string   `json:"tags"`
	Section  []string   `json:"section"`
	ParentID string     `json:"parent_id,omitempty"`
	Details  string     `json:"details,omitempty"`
}

// TodoFilter narrows ListTodos results. Zero values mean "no constraint".
type TodoFilter struct {
	Statuses        []Status
	Notebook        string
	Tags            []string
	Path            string
	DueBefore       *time.Time
	DueAfter        *time.Time
	Overdue         bool
	Priority        int
	Contains        string
	IncludeExcluded bool
	Limit           int
	Now             time.Time
}
