package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thomas-villani/nb-sub001/internal/noteservice"
)

// Events is the live event stream. It is served at GET /events and told
// about status changes made through the API.
type Events interface {
	http.Handler
	PublishStatus(id, path, status string)
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events may be nil, in which case /events is not mounted.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, events Events) chi.Router {
	h := NewHandler(svc).WithEvents(events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/search", h.Search)

	r.Get("/todos", h.ListTodos)
	r.Post("/todos/{id}/toggle", h.ToggleTodo)
	r.Put("/todos/{id}/status", h.SetTodoStatus)

	r.Get("/notes/*", h.GetNote)
	r.Get("/backlinks/*", h.Backlinks)

	r.Get("/history", h.History)
	r.Post("/history/viewed", h.MarkViewed)

	r.Post("/index", h.Index)

	r.Get("/tags", h.Tags)
	r.Get("/notebooks", h.Notebooks)
	r.Get("/recent", h.Recent)

	r.Get("/linked", h.ListLinked)
	r.Post("/linked", h.AddLinked)
	r.Delete("/linked", h.RemoveLinked)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
