package api

import (
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/noteservice"
	"github.com/starford/notegraph/internal/store"
)

// CreateNoteRequest is the request body for creating a note. An empty ID
// gets a generated one.
type CreateNoteRequest struct {
	ID      string `json:"id,omitempty" example:"hello"`
	Content string `json:"content" example:"# Hello\nSee [[World]]." validate:"required"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// BacklinksResponse wraps the backlink edges of a note.
type BacklinksResponse struct {
	Backlinks []models.BacklinkEdge `json:"backlinks" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []store.SearchResult `json:"results" validate:"required"`
}

// GraphResponse wraps the knowledge graph.
type GraphResponse struct {
	Nodes []noteservice.GraphNode `json:"nodes" validate:"required"`
	Links []models.Link           `json:"links" validate:"required"`
}
