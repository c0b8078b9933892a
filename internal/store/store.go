// Package store persists notes per owner. SQLite is the production backend;
// Memory is an in-process twin used by tests and tooling.
package store

import (
	"context"

	"github.com/starford/notegraph/internal/models"
)

// NoteUpdate carries a partial update. Nil fields are left untouched.
type NoteUpdate struct {
	Content        *string
	Tags           *[]string
	References     *[]string
	Backlinks      *[]models.BacklinkEdge
	SuggestedLinks *[]models.SuggestionEdge
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// NoteStore defines the persistence contract used by the knowledge engine.
// Consumers should depend on this interface rather than a concrete backend.
type NoteStore interface {
	GetAllNotes(ctx context.Context, ownerID string) ([]models.Note, error)
	// GetNote returns apperr.ErrNotFound when id does not exist for ownerID.
	GetNote(ctx context.Context, id, ownerID string) (*models.Note, error)
	// UpdateNote applies upd and returns the persisted note.
	UpdateNote(ctx context.Context, id, ownerID string, upd NoteUpdate) (*models.Note, error)
	CreateNote(ctx context.Context, note models.Note) (*models.Note, error)
	DeleteNote(ctx context.Context, id, ownerID string) error
	// Owners lists every owner that has at least one note.
	Owners(ctx context.Context) ([]string, error)
	Search(ctx context.Context, ownerID, query string, limit int) ([]SearchResult, error)
	Close() error
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func applyUpdate(n *models.Note, upd NoteUpdate) {
	if upd.Content != nil {
		n.Content = *upd.Content
	}
	if upd.Tags != nil {
		n.Tags = nonNil(append([]string(nil), (*upd.Tags)...))
	}
	if upd.References != nil {
		n.References = nonNil(append([]string(nil), (*upd.References)...))
	}
	if upd.Backlinks != nil {
		n.Backlinks = nonNil(append([]models.BacklinkEdge(nil), (*upd.Backlinks)...))
	}
	if upd.SuggestedLinks != nil {
		n.SuggestedLinks = nonNil(append([]models.SuggestionEdge(nil), (*upd.SuggestedLinks)...))
	}
}

// snippet returns at most n runes of s.
func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
