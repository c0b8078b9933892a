// Package noteservice is the application layer over the note store and the
// knowledge engine. HTTP and MCP handlers call it; it never speaks HTTP.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/checksum"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/ops"
	"github.com/starford/notegraph/internal/parser"
	"github.com/starford/notegraph/internal/sse"
	"github.com/starford/notegraph/internal/store"
	"github.com/starford/notegraph/internal/suggest"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	ID             string                  `json:"id"`
	Title          string                  `json:"title"`
	Content        string                  `json:"content"`
	Checksum       string                  `json:"checksum"`
	Tags           []string                `json:"tags"`
	Frontmatter    map[string]any          `json:"frontmatter,omitempty"`
	References     []string                `json:"references"`
	Backlinks      []models.BacklinkEdge   `json:"backlinks"`
	SuggestedLinks []models.SuggestionEdge `json:"suggested_links"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GraphNode is a node of the reference graph.
type GraphNode struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Publisher receives change notifications. *sse.Broker implements it.
type Publisher interface {
	Publish(event sse.Event)
	PublishNoteEvent(kind, ownerID, noteID string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event)               {}
func (nopPublisher) PublishNoteEvent(_, _, _ string) {}

// Service coordinates the store, the suggestion manager and the operation
// registry.
type Service struct {
	store   store.NoteStore
	manager *suggest.Manager
	ops     *ops.Registry
	events  Publisher
	logger  *slog.Logger
}

// NewService creates a new note service. events may be nil.
func NewService(st store.NoteStore, manager *suggest.Manager, registry *ops.Registry, events Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, manager: manager, ops: registry, events: events, logger: logger}
}

// GetNote returns a single note.
func (s *Service) GetNote(ctx context.Context, ownerID, id string) (*NoteDetail, error) {
	n, err := s.store.GetNote(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return buildNoteDetail(n), nil
}

// ListNotes returns a page of notes, optionally filtered by tag and sorted by
// updated_at (default, newest first), title or created_at.
func (s *Service) ListNotes(ctx context.Context, ownerID string, limit, offset int, tag, sortBy string) ([]NoteListItem, int, error) {
	notes, err := s.store.GetAllNotes(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	items := make([]NoteListItem, 0, len(notes))
	for _, n := range notes {
		if tag != "" && !hasTag(n.Tags, tag) {
			continue
		}
		items = append(items, NoteListItem{
			ID:        n.ID,
			Title:     parser.Parse(n.Content).Title,
			Checksum:  checksum.String(n.Content),
			Tags:      nonNilSlice(n.Tags),
			UpdatedAt: n.UpdatedAt,
		})
	}
	switch sortBy {
	case "title":
		sort.SliceStable(items, func(i, j int) bool {
			return strings.ToLower(items[i].Title) < strings.ToLower(items[j].Title)
		})
	case "created_at":
		// store order
	default:
		sort.SliceStable(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	}

	total := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items, total, nil
}

// CreateNote stores a new note and runs the knowledge engine over it. An
// empty id gets a generated one. Name-based UUIDs are reserved for notes
// mirrored from the vault.
func (s *Service) CreateNote(ctx context.Context, ownerID, id, content string) (*NoteDetail, error) {
	if reservedID(id) {
		return nil, fmt.Errorf("noteservice: id %s is reserved for vault notes: %w", id, apperr.ErrInvalidArgument)
	}
	return s.create(ctx, ownerID, id, content)
}

func reservedID(id string) bool {
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() == 3 || u.Version() == 5
}

func (s *Service) create(ctx context.Context, ownerID, id, content string) (*NoteDetail, error) {
	res := parser.Parse(content)
	var created *models.Note
	err := s.manager.Exclusive(ctx, ownerID, func(ctx context.Context) error {
		var err error
		created, err = s.store.CreateNote(ctx, models.Note{
			ID:      id,
			OwnerID: ownerID,
			Content: content,
			Tags:    nonNilSlice(res.Tags),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, ownerID, created.ID)
}

// UpdateNote replaces a note's content. A non-empty ifMatch must equal the
// checksum of the stored content.
func (s *Service) UpdateNote(ctx context.Context, ownerID, id, content, ifMatch string) (*NoteDetail, error) {
	res := parser.Parse(content)
	tags := nonNilSlice(res.Tags)
	err := s.manager.Exclusive(ctx, ownerID, func(ctx context.Context) error {
		existing, err := s.store.GetNote(ctx, id, ownerID)
		if err != nil {
			return err
		}
		if ifMatch != "" && ifMatch != checksum.String(existing.Content) {
			return apperr.ErrConflict
		}
		_, err = s.store.UpdateNote(ctx, id, ownerID, store.NoteUpdate{Content: &content, Tags: &tags})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, ownerID, id)
}

// UpsertNote creates the note or replaces its content when it already exists.
// Unchanged content is a no-op.
func (s *Service) UpsertNote(ctx context.Context, ownerID, id, content string) (*NoteDetail, error) {
	existing, err := s.store.GetNote(ctx, id, ownerID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return s.create(ctx, ownerID, id, content)
	case err != nil:
		return nil, err
	case existing.Content == content:
		return buildNoteDetail(existing), nil
	default:
		return s.UpdateNote(ctx, ownerID, id, content, "")
	}
}

// DeleteNote removes a note and cascades the deletion through the graph.
func (s *Service) DeleteNote(ctx context.Context, ownerID, id string) error {
	if err := s.manager.Remove(ctx, ownerID, id); err != nil {
		return err
	}
	s.events.PublishNoteEvent(sse.KindDeleted, ownerID, id)
	return nil
}

// GetSuggestions refreshes and returns the note with its pending suggestions.
// The work is registered under opID (generated when empty) so it can be
// cancelled with CancelOperation.
func (s *Service) GetSuggestions(ctx context.Context, ownerID, id, opID string) (*NoteDetail, error) {
	op, err := s.ops.Start(ctx, opID, ops.TierLong)
	if err != nil {
		return nil, err
	}
	defer op.Done()

	n, err := s.manager.Generate(op.Ctx, ownerID, id)
	if err != nil {
		return nil, op.Err(err)
	}
	s.publishSuggestions(ownerID, n)
	return buildNoteDetail(n), nil
}

// AcceptSuggestion turns a suggestion into a reference and returns the source note.
func (s *Service) AcceptSuggestion(ctx context.Context, ownerID, id, targetID string) (*NoteDetail, error) {
	op, err := s.ops.Start(ctx, "", ops.TierDefault)
	if err != nil {
		return nil, err
	}
	defer op.Done()

	n, err := s.manager.Accept(op.Ctx, ownerID, id, targetID)
	if err != nil {
		return nil, op.Err(err)
	}
	s.events.Publish(sse.Event{Type: sse.TypeSuggestionAccepted, Data: decisionData(ownerID, id, targetID)})
	s.events.PublishNoteEvent(sse.KindSaved, ownerID, id)
	return buildNoteDetail(n), nil
}

// RejectSuggestion dismisses a suggestion and returns the source note.
func (s *Service) RejectSuggestion(ctx context.Context, ownerID, id, targetID string) (*NoteDetail, error) {
	op, err := s.ops.Start(ctx, "", ops.TierDefault)
	if err != nil {
		return nil, err
	}
	defer op.Done()

	n, err := s.manager.Reject(op.Ctx, ownerID, id, targetID)
	if err != nil {
		return nil, op.Err(err)
	}
	s.events.Publish(sse.Event{Type: sse.TypeSuggestionRejected, Data: decisionData(ownerID, id, targetID)})
	return buildNoteDetail(n), nil
}

// CancelOperation aborts a running operation.
func (s *Service) CancelOperation(opID string) error {
	if !s.ops.Cancel(opID) {
		return fmt.Errorf("noteservice: operation %s: %w", opID, apperr.ErrNotFound)
	}
	return nil
}

// Backlinks returns the backlink edges stored on a note.
func (s *Service) Backlinks(ctx context.Context, ownerID, id string) ([]models.BacklinkEdge, error) {
	n, err := s.store.GetNote(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(n.Backlinks), nil
}

// Search runs a full-text search over the owner's notes.
func (s *Service) Search(ctx context.Context, ownerID, query string, limit int) ([]store.SearchResult, error) {
	res, err := s.store.Search(ctx, ownerID, query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Graph returns every note and reference edge of an owner.
func (s *Service) Graph(ctx context.Context, ownerID string) ([]GraphNode, []models.Link, error) {
	notes, err := s.store.GetAllNotes(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	nodes := make([]GraphNode, 0, len(notes))
	links := make([]models.Link, 0)
	for _, n := range notes {
		nodes = append(nodes, GraphNode{ID: n.ID, Title: parser.Parse(n.Content).Title})
		for _, ref := range n.References {
			links = append(links, models.Link{Source: n.ID, Target: ref})
		}
	}
	return nodes, links, nil
}

// NoteRefreshed publishes the events for a note the background sweep updated.
func (s *Service) NoteRefreshed(ownerID string, n *models.Note) {
	s.publishSuggestions(ownerID, n)
}

// refresh runs sync and suggestion generation after a save. A failed
// generation degrades to a plain sync; sync failures are returned.
func (s *Service) refresh(ctx context.Context, ownerID, id string) (*NoteDetail, error) {
	defer s.events.PublishNoteEvent(sse.KindSaved, ownerID, id)

	n, err := s.manager.Generate(ctx, ownerID, id)
	if err == nil {
		s.publishSuggestions(ownerID, n)
		return buildNoteDetail(n), nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	s.logger.Warn("noteservice: suggestion generation failed",
		slog.String("note", id), slog.String("error", err.Error()))

	n, err = s.manager.Sync(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return buildNoteDetail(n), nil
}

func (s *Service) publishSuggestions(ownerID string, n *models.Note) {
	s.events.Publish(sse.Event{Type: sse.TypeSuggestionsUpdated, Data: map[string]any{
		"owner_id": ownerID,
		"id":       n.ID,
		"count":    len(n.SuggestedLinks),
	}})
}

func decisionData(ownerID, id, targetID string) map[string]string {
	return map[string]string{"owner_id": ownerID, "id": id, "target_id": targetID}
}

func buildNoteDetail(n *models.Note) *NoteDetail {
	res := parser.Parse(n.Content)
	return &NoteDetail{
		ID:             n.ID,
		Title:          res.Title,
		Content:        n.Content,
		Checksum:       checksum.String(n.Content),
		Tags:           nonNilSlice(n.Tags),
		Frontmatter:    res.Frontmatter,
		References:     nonNilSlice(n.References),
		Backlinks:      nonNilSlice(n.Backlinks),
		SuggestedLinks: nonNilSlice(n.SuggestedLinks),
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
