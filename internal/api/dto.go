package api

import (
	"github.com/thomas-villani/nb-sub001/internal/index"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/noteservice"
	"github.com/thomas-villani/nb-sub001/internal/search"
	"github.com/thomas-villani/nb-sub001/internal/syncer"
)

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// StatusRequest is the request body for changing a todo's status.
type StatusRequest struct {
	Status string `json:"status" example:"in_progress" validate:"required"`
}

// ViewedRequest is the request body for recording a note view.
type ViewedRequest struct {
	Path string `json:"path" example:"work/plan.md" validate:"required"`
}

// LinkedRequest registers an external file or directory.
type LinkedRequest = models.LinkedPath

// SearchResponse wraps ranked results. Warning is set when the vector signal
// was unavailable and the ranking fell back to keywords.
type SearchResponse struct {
	Results  []search.Result `json:"results" validate:"required"`
	Mode     search.Mode     `json:"mode" example:"hybrid" validate:"required"`
	Degraded bool            `json:"degraded"`
	Warning  string          `json:"warning,omitempty"`
}

// TodoListResponse wraps a todo listing.
type TodoListResponse struct {
	Todos []models.Todo `json:"todos" validate:"required"`
	Total int           `json:"total" example:"12" validate:"required"`
}

// StatusResponse is returned after a status change.
type StatusResponse = syncer.Result

// LinksResponse wraps backlinks.
type LinksResponse struct {
	Links []models.Link `json:"links" validate:"required"`
}

// HistoryResponse wraps history entries.
type HistoryResponse struct {
	Entries []models.HistoryEntry `json:"entries" validate:"required"`
}

// IndexResponse summarizes an index run.
type IndexResponse struct {
	Added     int      `json:"added"`
	Modified  int      `json:"modified"`
	Deleted   int      `json:"deleted"`
	Unchanged int      `json:"unchanged"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
}

func newIndexResponse(rep *index.Report) IndexResponse {
	out := IndexResponse{
		Added:     rep.Added,
		Modified:  rep.Modified,
		Deleted:   rep.Deleted,
		Unchanged: rep.Unchanged,
		Errors:    []string{},
		Warnings:  []string{},
	}
	for _, e := range rep.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	out.Warnings = append(out.Warnings, rep.Warnings...)
	return out
}
