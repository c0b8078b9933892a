// Package models defines the domain types for notegraph.
package models

import "time"

// Note is a free-text document owned by a single user. References, Backlinks
// and SuggestedLinks are graph-derived and recomputed by the knowledge engine.
type Note struct {
	ID             string           `json:"id"`
	OwnerID        string           `json:"owner_id"`
	Content        string           `json:"content"`
	Tags           []string         `json:"tags"`
	References     []string         `json:"references"`
	Backlinks      []BacklinkEdge   `json:"backlinks"`
	SuggestedLinks []SuggestionEdge `json:"suggested_links"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// BacklinkEdge is the inverse of a reference, stored on the referenced note.
type BacklinkEdge struct {
	SourceNoteID string    `json:"source_note_id"`
	Context      string    `json:"context"`
	Timestamp    time.Time `json:"timestamp"`
}

// SuggestionState is the lifecycle state of a suggested link.
type SuggestionState string

// Suggestion states. Accepted and rejected are terminal.
const (
	SuggestionPending  SuggestionState = "pending"
	SuggestionAccepted SuggestionState = "accepted"
	SuggestionRejected SuggestionState = "rejected"
)

// SuggestionEdge is a system-proposed link from the owning note to TargetNoteID.
type SuggestionEdge struct {
	TargetNoteID string          `json:"target_note_id"`
	Relevance    float64         `json:"relevance"`
	Context      string          `json:"context"`
	State        SuggestionState `json:"state"`
	Timestamp    time.Time       `json:"timestamp"`
}

// HasReference reports whether id is among the note's references.
func (n *Note) HasReference(id string) bool {
	for _, r := range n.References {
		if r == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the note so callers can mutate slices freely.
func (n Note) Clone() Note {
	out := n
	out.Tags = cloneSlice(n.Tags)
	out.References = cloneSlice(n.References)
	out.Backlinks = cloneSlice(n.Backlinks)
	out.SuggestedLinks = cloneSlice(n.SuggestedLinks)
	return out
}

// cloneSlice copies s, keeping nil and empty distinct.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Link represents a directed reference edge between two notes.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
