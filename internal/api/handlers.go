package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thomas-villani/nb-sub001/internal/dates"
	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/noteservice"
	"github.com/thomas-villani/nb-sub001/internal/search"
	"github.com/thomas-villani/nb-sub001/internal/syncer"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *noteservice.Service
	events Events
	now    func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// WithEvents publishes status changes to e.
func (h *Handler) WithEvents(e Events) *Handler {
	h.events = e
	return h
}

func (h *Handler) publishStatus(res *syncer.Result) {
	if h.events == nil {
		return
	}
	for _, td := range append([]models.Todo{res.Todo}, res.Cascaded...) {
		h.events.PublishStatus(td.ID, td.Path, string(td.Status))
	}
}

// notePath extracts the note path from the wildcard segment.
// Supports encoded slashes from OpenAPI clients (e.g. work%2Fplan.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Search handles GET /api/search.
//
//	@Summary		Hybrid search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q			query		string	true	"Search query"
//	@Param			mode		query		string	false	"Ranking mode"	Enums(hybrid, keyword, vector)
//	@Param			notebook	query		string	false	"Restrict to a notebook"
//	@Param			limit		query		int		false	"Max results"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	mode := search.Mode(q.Get("mode"))
	if mode != "" && !mode.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("mode must be hybrid, keyword or vector"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	resp, err := h.svc.Search(r.Context(), search.Query{
		Text:     text,
		Notebook: q.Get("notebook"),
		Mode:     mode,
		Limit:    limit,
	})
	if err != nil {
		writeError(w, "search", err)
		return
	}
	out := SearchResponse{Results: resp.Results, Mode: resp.Mode, Degraded: resp.Degraded}
	if resp.Warning != nil {
		out.Warning = resp.Warning.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTodos handles GET /api/todos.
//
//	@Summary		List todos with filters
//	@Tags			todos
//	@Produce		json
//	@Param			status				query		string	false	"Comma-separated statuses"
//	@Param			notebook			query		string	false	"Notebook"
//	@Param			tag					query		[]string	false	"Tags, all must match"
//	@Param			path				query		string	false	"Note path"
//	@Param			due_before			query		string	false	"Date expression"
//	@Param			due_after			query		string	false	"Date expression"
//	@Param			overdue				query		bool	false	"Only overdue todos"
//	@Param			priority			query		int		false	"Priority 1-3"
//	@Param			q					query		string	false	"Content contains"
//	@Param			include_excluded	query		bool	false	"Include todo_exclude notes"
//	@Param			limit				query		int		false	"Max todos"
//	@Success		200					{object}	TodoListResponse
//	@Failure		400					{object}	errResponse
//	@Security		BearerAuth
//	@Router			/todos [get]
func (h *Handler) ListTodos(w http.ResponseWriter, r *http.Request) {
	f, err := h.todoFilter(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	todos, err := h.svc.ListTodos(r.Context(), f)
	if err != nil {
		writeError(w, "list todos", err)
		return
	}
	writeJSON(w, http.StatusOK, TodoListResponse{Todos: todos, Total: len(todos)})
}

func (h *Handler) todoFilter(q url.Values) (models.TodoFilter, error) {
	now := h.now()
	f := models.TodoFilter{
		Notebook:        q.Get("notebook"),
		Path:            q.Get("path"),
		Contains:        q.Get("q"),
		Tags:            q["tag"],
		Overdue:         q.Get("overdue") == "true",
		IncludeExcluded: q.Get("include_excluded") == "true",
		Now:             now,
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			s, err := models.ParseStatus(part)
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, s)
		}
	}
	for key, dst := range map[string]**time.Time{"due_before": &f.DueBefore, "due_after": &f.DueAfter} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		res, err := dates.Resolve(raw, now)
		if err != nil {
			return f, err
		}
		t := res.Time
		*dst = &t
	}
	if raw := q.Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 || p > 3 {
			return f, errInvalid("priority must be 1, 2 or 3")
		}
		f.Priority = p
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, errInvalid("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

type errInvalid string

func (e errInvalid) Error() string { return string(e) }

// ToggleTodo handles POST /api/todos/{id}/toggle.
//
//	@Summary		Toggle a todo between open and completed
//	@Tags			todos
//	@Produce		json
//	@Param			id	path		string	true	"Todo ID or unique prefix"
//	@Success		200	{object}	StatusResponse
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/todos/{id}/toggle [post]
func (h *Handler) ToggleTodo(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "toggle todo", err)
		return
	}
	h.publishStatus(res)
	writeJSON(w, http.StatusOK, res)
}

// SetTodoStatus handles PUT /api/todos/{id}/status.
//
//	@Summary		Set a todo's status and write it back to the note
//	@Tags			todos
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Todo ID or unique prefix"
//	@Param			body	body		StatusRequest	true	"New status"
//	@Success		200		{object}	StatusResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/todos/{id}/status [put]
func (h *Handler) SetTodoStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(w, "set todo status", err)
		return
	}
	h.publishStatus(res)
	writeJSON(w, http.StatusOK, res)
}

// GetNote handles GET /api/notes/*.
//
//	@Summary		Get a single note with todos and backlinks
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), path)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Backlinks handles GET /api/backlinks/*.
//
//	@Summary		Links pointing at a note
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	LinksResponse
//	@Security		BearerAuth
//	@Router			/backlinks/{path} [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	links, err := h.svc.Backlinks(r.Context(), path)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, LinksResponse{Links: links})
}

// History handles GET /api/history.
//
//	@Summary		History log, newest first
//	@Tags			history
//	@Produce		json
//	@Param			kind	query		string	false	"Event kind"	Enums(viewed, modified)
//	@Param			limit	query		int		false	"Max entries"
//	@Success		200		{object}	HistoryResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != models.HistoryViewed && kind != models.HistoryModified {
		writeJSON(w, http.StatusBadRequest, errorBody("kind must be viewed or modified"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.History(r.Context(), kind, limit)
	if err != nil {
		writeError(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

// MarkViewed handles POST /api/history/viewed.
//
//	@Summary		Record that a note was viewed
//	@Tags			history
//	@Accept			json
//	@Param			body	body	ViewedRequest	true	"Viewed note"
//	@Success		204		"Recorded"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/history/viewed [post]
func (h *Handler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ViewedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.MarkViewed(r.Context(), req.Path); err != nil {
		writeError(w, "mark viewed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Index handles POST /api/index.
//
//	@Summary		Bring the index up to date (rebuild=true clears it first)
//	@Tags			index
//	@Produce		json
//	@Param			rebuild	query		bool	false	"Clear derived data first"
//	@Success		200		{object}	IndexResponse
//	@Security		BearerAuth
//	@Router			/index [post]
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	run := h.svc.Index
	if r.URL.Query().Get("rebuild") == "true" {
		run = h.svc.Rebuild
	}
	rep, err := run(r.Context())
	if err != nil {
		writeError(w, "index", err)
		return
	}
	writeJSON(w, http.StatusOK, newIndexResponse(rep))
}

// Tags handles GET /api/tags.
//
//	@Summary		Tag usage across notes and todos
//	@Tags			aggregates
//	@Produce		json
//	@Success		200	{array}	index.TagCount
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.TagCounts(r.Context())
	if err != nil {
		writeError(w, "tags", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// Notebooks handles GET /api/notebooks.
//
//	@Summary		Note and open-todo counts per notebook
//	@Tags			aggregates
//	@Produce		json
//	@Success		200	{array}	index.NotebookCount
//	@Security		BearerAuth
//	@Router			/notebooks [get]
func (h *Handler) Notebooks(w http.ResponseWriter, r *http.Request) {
	nbs, err := h.svc.NotebookCounts(r.Context())
	if err != nil {
		writeError(w, "notebooks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notebooks": nbs})
}

// Recent handles GET /api/recent.
//
//	@Summary		Recently modified and viewed notes
//	@Tags			aggregates
//	@Produce		json
//	@Param			limit	query	int	false	"Max entries per list"
//	@Security		BearerAuth
//	@Router			/recent [get]
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	modified, err := h.svc.RecentlyModified(r.Context(), limit)
	if err != nil {
		writeError(w, "recent", err)
		return
	}
	viewed, err := h.svc.RecentlyViewed(r.Context(), limit)
	if err != nil {
		writeError(w, "recent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modified": modified, "viewed": viewed})
}

// ListLinked handles GET /api/linked.
//
//	@Summary		Linked files and directories registered at runtime
//	@Tags			linked
//	@Produce		json
//	@Security		BearerAuth
//	@Router			/linked [get]
func (h *Handler) ListLinked(w http.ResponseWriter, r *http.Request) {
	linked, err := h.svc.LinkedPaths(r.Context())
	if err != nil {
		writeError(w, "linked", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"linked": linked})
}

// AddLinked handles POST /api/linked.
//
//	@Summary		Register and index an external file or directory
//	@Tags			linked
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LinkedRequest	true	"Linked path"
//	@Success		201		{object}	IndexResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/linked [post]
func (h *Handler) AddLinked(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req LinkedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	rep, err := h.svc.RegisterLinked(r.Context(), req)
	if err != nil {
		writeError(w, "add linked", err)
		return
	}
	writeJSON(w, http.StatusCreated, newIndexResponse(rep))
}

// RemoveLinked handles DELETE /api/linked?path=.
//
//	@Summary		Unregister a linked path and drop its notes
//	@Tags			linked
//	@Param			path	query	string	true	"Registered path"
//	@Success		204		"Removed"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/linked [delete]
func (h *Handler) RemoveLinked(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.UnregisterLinked(r.Context(), path); err != nil {
		writeError(w, "remove linked", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
