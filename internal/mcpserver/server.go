// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes notegraph tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/noteservice"
)

const contractURI = "notegraph://note-format"

// Server wraps the MCP server with notegraph tools.
type Server struct {
	mcp          *server.MCPServer
	svc          *noteservice.Service
	defaultOwner string
}

// New creates a new MCP server with all notegraph tools registered. Tools
// accept an optional owner argument; defaultOwner is used when it is absent.
func New(svc *noteservice.Service, defaultOwner, version string) *Server {
	s := &Server{svc: svc, defaultOwner: defaultOwner}

	s.mcp = server.NewMCPServer(
		"notegraph",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	owner := mcp.WithString("owner", mcp.Description("Owner of the note collection (defaults to the configured owner)"))

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through notes content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		owner,
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its references, backlinks and pending suggestions."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		owner,
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new Markdown note. References written as [[Title]] are "+
			"resolved and backlinked immediately. Read the contract first via the "+
			"get_note_contract tool or the "+contractURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the note format contract")),
		mcp.WithString("id", mcp.Description("Optional note id; generated when empty")),
		owner,
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the notegraph note format contract. "+
			"Call this before creating notes to ensure references resolve."),
	), s.getNoteContract)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes, optionally filtered by tag."),
		mcp.WithString("tag", mcp.Description("Optional tag filter")),
		owner,
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that reference the specified note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to find backlinks for")),
		owner,
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_suggestions",
		mcp.WithDescription("Refresh and list notes similar enough to be worth linking from the specified note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Source note id")),
		owner,
	), s.getSuggestions)

	s.mcp.AddTool(mcp.NewTool("accept_suggestion",
		mcp.WithDescription("Accept a suggestion, turning it into a permanent reference."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Source note id")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("Suggested note id")),
		owner,
	), s.acceptSuggestion)

	s.mcp.AddTool(mcp.NewTool("reject_suggestion",
		mcp.WithDescription("Reject a suggestion. It stays hidden until the source note changes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Source note id")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("Suggested note id")),
		owner,
	), s.rejectSuggestion)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format Contract",
			mcp.WithResourceDescription("Markdown note format and reference rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
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

func (s *Server) owner(req mcp.CallToolRequest) string {
	if o := strings.TrimSpace(req.GetString("owner", "")); o != "" {
		return o
	}
	return s.defaultOwner
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, s.owner(req), query, 20)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(results)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, s.owner(req), id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(note)
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := req.GetString("id", "")

	note, err := s.svc.CreateNote(ctx, s.owner(req), id, content)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return mcp.NewToolResultError(fmt.Sprintf("note already exists: %s", id)), nil
		}
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", note.ID)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, _, err := s.svc.ListNotes(ctx, s.owner(req), 0, 0, req.GetString("tag", ""), "title")
	if err != nil {
		return toolError(err), nil
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s\t%s", it.ID, it.Title))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edges, err := s.svc.Backlinks(ctx, s.owner(req), id)
	if err != nil {
		return toolError(err), nil
	}
	if len(edges) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	lines := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.Context == "" {
			lines = append(lines, e.SourceNoteID)
			continue
		}
		lines = append(lines, e.SourceNoteID+"\t"+e.Context)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getSuggestions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetSuggestions(ctx, s.owner(req), id, "")
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(note.SuggestedLinks)
}

func (s *Server) acceptSuggestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.decide(ctx, req, s.svc.AcceptSuggestion, "accepted")
}

func (s *Server) rejectSuggestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.decide(ctx, req, s.svc.RejectSuggestion, "rejected")
}

type decideFunc func(ctx context.Context, ownerID, id, targetID string) (*noteservice.NoteDetail, error)

func (s *Server) decide(ctx context.Context, req mcp.CallToolRequest, fn decideFunc, verb string) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := fn(ctx, s.owner(req), id, target); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s -> %s", verb, id, target)), nil
}
