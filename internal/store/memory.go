package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/parser"
)

// Memory is an in-process NoteStore. Notes are copied on the way in and out,
// so callers never share slices with the store.
type Memory struct {
	mu    sync.RWMutex
	notes map[string]map[string]models.Note // owner -> id -> note
}

var _ NoteStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{notes: make(map[string]map[string]models.Note)}
}

func (m *Memory) GetAllNotes(_ context.Context, ownerID string) ([]models.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Note, 0, len(m.notes[ownerID]))
	for _, n := range m.notes[ownerID] {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetNote(_ context.Context, id, ownerID string) (*models.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notes[ownerID][id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	c := n.Clone()
	return &c, nil
}

func (m *Memory) CreateNote(_ context.Context, note models.Note) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	for _, byID := range m.notes {
		if _, dup := byID[note.ID]; dup {
			return nil, apperr.ErrAlreadyExists
		}
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now
	note.Tags = nonNil(note.Tags)
	note.References = nonNil(note.References)
	note.Backlinks = nonNil(note.Backlinks)
	note.SuggestedLinks = nonNil(note.SuggestedLinks)

	if m.notes[note.OwnerID] == nil {
		m.notes[note.OwnerID] = make(map[string]models.Note)
	}
	m.notes[note.OwnerID][note.ID] = note.Clone()
	return &note, nil
}

func (m *Memory) UpdateNote(_ context.Context, id, ownerID string, upd NoteUpdate) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[ownerID][id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	n = n.Clone()
	applyUpdate(&n, upd)
	n.UpdatedAt = time.Now().UTC()
	m.notes[ownerID][id] = n
	c := n.Clone()
	return &c, nil
}

func (m *Memory) DeleteNote(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notes[ownerID][id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.notes[ownerID], id)
	if len(m.notes[ownerID]) == 0 {
		delete(m.notes, ownerID)
	}
	return nil
}

func (m *Memory) Owners(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.notes))
	for o := range m.notes {
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}

// Search does a case-insensitive substring match over content and tags.
func (m *Memory) Search(ctx context.Context, ownerID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	notes, _ := m.GetAllNotes(ctx, ownerID)
	q := strings.ToLower(query)
	var out []SearchResult
	for _, n := range notes {
		hit := strings.Contains(strings.ToLower(n.Content), q)
		for _, t := range n.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				hit = true
			}
		}
		if !hit {
			continue
		}
		p := parser.Parse(n.Content)
		out = append(out, SearchResult{ID: n.ID, Title: p.Title, Snippet: snippet(p.Body, 200)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
