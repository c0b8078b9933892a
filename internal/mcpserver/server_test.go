package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	return New(testutil.TestService(t, testutil.TestDB(t), nil), "local", "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "get_suggestions":
		result, err = srv.getSuggestions(ctx, req)
	case "accept_suggestion":
		result, err = srv.acceptSuggestion(ctx, req)
	case "reject_suggestion":
		result, err = srv.rejectSuggestion(ctx, req)
	case "get_note_contract":
		result, err = srv.getNoteContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndReadNote(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "create_note", map[string]interface{}{
		"id":      "test",
		"content": "# Test\nHello",
	})
	if text := resultText(r); text != "created: test" {
		t.Errorf("create result = %q", text)
	}

	r = callTool(t, srv, "read_note", map[string]interface{}{"id": "test"})
	if r.IsError {
		t.Fatalf("read failed: %s", resultText(r))
	}
	var note struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &note); err != nil {
		t.Fatal(err)
	}
	if note.Content != "# Test\nHello" || note.Title != "Test" {
		t.Errorf("read result = %+v", note)
	}
}

func TestCreateDuplicate(t *testing.T) {
	srv := testServer(t)
	args := map[string]interface{}{"id": "dup", "content": "x"}
	_ = callTool(t, srv, "create_note", args)

	r := callTool(t, srv, "create_note", args)
	if !r.IsError || !strings.Contains(resultText(r), "already exists") {
		t.Errorf("duplicate create = %q", resultText(r))
	}
}

func TestListNotes(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "first", "content": "# Bravo\n#keep"})
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "second", "content": "# Alpha"})

	r := callTool(t, srv, "list_notes", map[string]interface{}{})
	if text := resultText(r); text != "second\tAlpha\nfirst\tBravo" {
		t.Errorf("list = %q", text)
	}

	r = callTool(t, srv, "list_notes", map[string]interface{}{"tag": "keep"})
	if text := resultText(r); text != "first\tBravo" {
		t.Errorf("tag list = %q", text)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestOwnerArgument(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "theirs", "content": "x", "owner": "other"})

	r := callTool(t, srv, "read_note", map[string]interface{}{"id": "theirs"})
	if !r.IsError {
		t.Error("default owner must not see another owner's note")
	}
	r = callTool(t, srv, "read_note", map[string]interface{}{"id": "theirs", "owner": "other"})
	if r.IsError {
		t.Errorf("owner read failed: %s", resultText(r))
	}
}

func TestGetBacklinks(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "target", "content": "# Target\nbody"})
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "source", "content": "Links to [[Target]]."})

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"id": "target"})
	if text := resultText(r); text != "source\tLinks to [[Target]]." {
		t.Errorf("backlinks = %q", text)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"id": "source"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks = %q", text)
	}
}

func TestSuggestionTools(t *testing.T) {
	srv := testServer(t)
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "near", "content": "raft consensus leader election log"})
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "far", "content": "sourdough starter hydration"})
	_ = callTool(t, srv, "create_note", map[string]interface{}{"id": "origin", "content": "raft consensus leader election"})

	r := callTool(t, srv, "get_suggestions", map[string]interface{}{"id": "origin"})
	if r.IsError {
		t.Fatalf("get_suggestions: %s", resultText(r))
	}
	var edges []models.SuggestionEdge
	if err := json.Unmarshal([]byte(resultText(r)), &edges); err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || edges[0].TargetNoteID != "near" {
		t.Fatalf("suggestions = %+v", edges)
	}

	r = callTool(t, srv, "accept_suggestion", map[string]interface{}{"id": "origin", "target_id": "near"})
	if text := resultText(r); text != "accepted: origin -> near" {
		t.Errorf("accept = %q", text)
	}

	r = callTool(t, srv, "get_backlinks", map[string]interface{}{"id": "near"})
	if text := resultText(r); !strings.HasPrefix(text, "origin") {
		t.Errorf("backlinks after accept = %q", text)
	}

	r = callTool(t, srv, "reject_suggestion", map[string]interface{}{"id": "origin", "target_id": "near"})
	if !r.IsError {
		t.Error("rejecting an accepted suggestion must fail")
	}
	r = callTool(t, srv, "reject_suggestion", map[string]interface{}{"id": "origin"})
	if !r.IsError {
		t.Error("missing target_id must fail")
	}
}

func TestGetNoteContract(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_note_contract", nil)
	if !strings.Contains(resultText(r), "[[identifier]]") {
		t.Error("contract text missing reference syntax")
	}
}
