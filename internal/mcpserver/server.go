// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes nb search and todo tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/thomas-villani/nb-sub001/internal/models"
	"github.com/thomas-villani/nb-sub001/internal/noteservice"
	"github.com/thomas-villani/nb-sub001/internal/search"
)

const todoSyntaxURI = "nb://todo-syntax"

// Server wraps the MCP server with nb tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all nb tools registered.
func New(svc *noteservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"nb",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Rank notes by keyword and semantic similarity to a query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("mode", mcp.Description("Ranking mode"), mcp.Enum("hybrid", "keyword", "vector")),
		mcp.WithString("notebook", mcp.Description("Restrict results to one notebook")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("list_todos",
		mcp.WithDescription("List todos across notes, ordered by due date then priority."),
		mcp.WithString("status", mcp.Description("Comma-separated statuses: pending, in_progress, completed")),
		mcp.WithString("notebook", mcp.Description("Restrict to one notebook")),
		mcp.WithString("tag", mcp.Description("Comma-separated tags; all must match")),
		mcp.WithBoolean("overdue", mcp.Description("Only unfinished todos due before today")),
		mcp.WithBoolean("include_excluded", mcp.Description("Include todos from notes marked todo_exclude")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of todos")),
	), s.listTodos)

	s.mcp.AddTool(mcp.NewTool("toggle_todo",
		mcp.WithDescription("Toggle a todo between pending and completed, or set an explicit status. "+
			"The change is written back to the note file."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Todo ID or unique ID prefix")),
		mcp.WithString("status", mcp.Description("Optional target status instead of toggling")),
	), s.toggleTodo)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the note to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of an indexed note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note path (e.g. work/plan.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("get_todo_syntax",
		mcp.WithDescription("Returns the todo and inline metadata syntax nb understands. "+
			"Call this before writing todos into notes."),
	), s.getTodoSyntax)

	s.mcp.AddResource(
		mcp.NewResource(todoSyntaxURI, "Todo Syntax",
			mcp.WithResourceDescription("Checkbox, due date, priority and tag syntax for todos."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTodoSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := search.Mode(req.GetString("mode", ""))
	if mode != "" && !mode.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid mode %q", mode)), nil
	}
	resp, err := s.svc.Search(ctx, search.Query{
		Text:     query,
		Notebook: req.GetString("notebook", ""),
		Mode:     mode,
		Limit:    req.GetInt("limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if resp.Degraded && resp.Warning != nil {
		out, _ := json.MarshalIndent(resp.Results, "", "  ")
		return mcp.NewToolResultText("warning: " + resp.Warning.Error() + "\n" + string(out)), nil
	}
	return jsonResult(resp.Results)
}

func (s *Server) listTodos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := models.TodoFilter{
		Notebook:        req.GetString("notebook", ""),
		Tags:            splitList(req.GetString("tag", "")),
		Overdue:         req.GetBool("overdue", false),
		IncludeExcluded: req.GetBool("include_excluded", false),
		Limit:           req.GetInt("limit", 0),
	}
	for _, raw := range splitList(req.GetString("status", "")) {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f.Statuses = append(f.Statuses, st)
	}
	if f.Limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}
	todos, err := s.svc.ListTodos(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(todos)
}

func (s *Server) toggleTodo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var res any
	if raw := req.GetString("status", ""); raw != "" {
		st, perr := models.ParseStatus(raw)
		if perr != nil {
			return mcp.NewToolResultError(perr.Error()), nil
		}
		res, err = s.svc.SetStatus(ctx, id, st)
	} else {
		res, err = s.svc.Toggle(ctx, id)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	lines := make([]string, 0, len(bl))
	for _, l := range bl {
		lines = append(lines, fmt.Sprintf("%s:%d", l.Source, l.Line))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.GetNote(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	_ = s.svc.MarkViewed(ctx, path)
	return mcp.NewToolResultText(n.Content), nil
}

func (s *Server) getTodoSyntax(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TodoSyntaxContract), nil
}

func (s *Server) readTodoSyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      todoSyntaxURI,
			MIMEType: "text/markdown",
			Text:     TodoSyntaxContract,
		},
	}, nil
}
