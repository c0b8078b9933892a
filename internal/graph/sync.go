package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/notegraph/internal/metrics"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/store"
)

// Synchronizer recomputes references and backlinks and persists the result.
// It does not lock; callers serialize writes for an owner.
type Synchronizer struct {
	store  store.NoteStore
	logger *slog.Logger
	now    func() time.Time
}

// NewSynchronizer creates a Synchronizer writing through st.
func NewSynchronizer(st store.NoteStore, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{store: st, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Pin is a reference kept regardless of the source's markers. Context is
// used for the backlink when no marker in the content names the target.
type Pin struct {
	ID      string
	Context string
}

// Sync recomputes source's references from its content plus the pinned ids,
// rebuilds every backlink edge originating at source across notes, and
// persists source and each note whose backlinks changed.
//
// notes is the owner's full collection. Its elements are updated in place so
// the caller sees the post-sync graph. Persistence errors are returned; the
// write is not atomic across notes and a partial failure is repaired by the
// next Sync.
func (s *Synchronizer) Sync(ctx context.Context, source models.Note, notes []models.Note, pinned ...Pin) (*models.Note, error) {
	refs := Resolve(source, notes)
	contexts := make(map[string]string, len(refs)+len(pinned))
	ids := make([]string, 0, len(refs)+len(pinned))
	for _, r := range refs {
		contexts[r.TargetID] = ReferenceContext(source.Content, r.Identifier)
		ids = append(ids, r.TargetID)
	}

	exists := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		exists[n.ID] = struct{}{}
	}
	for _, p := range pinned {
		if p.ID == source.ID {
			continue
		}
		if _, ok := exists[p.ID]; !ok {
			continue
		}
		if _, dup := contexts[p.ID]; dup {
			continue
		}
		contexts[p.ID] = p.Context
		ids = append(ids, p.ID)
	}

	now := s.now()
	for i := range notes {
		n := &notes[i]
		if n.ID == source.ID {
			continue
		}
		edgeContext, referenced := contexts[n.ID]
		fresh := models.BacklinkEdge{
			SourceNoteID: source.ID,
			Context:      edgeContext,
			Timestamp:    now,
		}
		// An existing edge keeps its position, and its timestamp when the
		// context is unchanged; duplicates from source are dropped.
		kept := make([]models.BacklinkEdge, 0, len(n.Backlinks)+1)
		placed := false
		for _, e := range n.Backlinks {
			if e.SourceNoteID != source.ID {
				kept = append(kept, e)
				continue
			}
			if !referenced || placed {
				continue
			}
			if e.Context != fresh.Context {
				e = fresh
			}
			kept = append(kept, e)
			placed = true
		}
		if referenced && !placed {
			kept = append(kept, fresh)
		}
		if sameEdges(n.Backlinks, kept) {
			continue
		}
		updated, err := s.store.UpdateNote(ctx, n.ID, n.OwnerID, store.NoteUpdate{Backlinks: &kept})
		if err != nil {
			metrics.GraphSyncs.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("graph: sync: backlinks of %s: %w", n.ID, err)
		}
		*n = *updated
	}

	updated, err := s.store.UpdateNote(ctx, source.ID, source.OwnerID, store.NoteUpdate{References: &ids})
	if err != nil {
		metrics.GraphSyncs.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("graph: sync: references of %s: %w", source.ID, err)
	}
	for i := range notes {
		if notes[i].ID == source.ID {
			notes[i] = *updated
		}
	}
	metrics.GraphSyncs.WithLabelValues("ok").Inc()
	s.logger.Debug("graph: synced", slog.String("note", source.ID), slog.Int("references", len(ids)))
	return updated, nil
}

// Remove deletes the note and cascades: its outgoing backlink edges are
// pruned, and its id is removed from every other note's references and
// suggestions.
func (s *Synchronizer) Remove(ctx context.Context, deleted models.Note, notes []models.Note) error {
	for i := range notes {
		n := &notes[i]
		if n.ID == deleted.ID {
			continue
		}
		var upd store.NoteUpdate
		changed := false

		backlinks := make([]models.BacklinkEdge, 0, len(n.Backlinks))
		for _, e := range n.Backlinks {
			if e.SourceNoteID != deleted.ID {
				backlinks = append(backlinks, e)
			}
		}
		if len(backlinks) != len(n.Backlinks) {
			upd.Backlinks = &backlinks
			changed = true
		}

		refs := make([]string, 0, len(n.References))
		for _, r := range n.References {
			if r != deleted.ID {
				refs = append(refs, r)
			}
		}
		if len(refs) != len(n.References) {
			upd.References = &refs
			changed = true
		}

		suggestions := make([]models.SuggestionEdge, 0, len(n.SuggestedLinks))
		for _, sg := range n.SuggestedLinks {
			if sg.TargetNoteID != deleted.ID {
				suggestions = append(suggestions, sg)
			}
		}
		if len(suggestions) != len(n.SuggestedLinks) {
			upd.SuggestedLinks = &suggestions
			changed = true
		}

		if !changed {
			continue
		}
		updated, err := s.store.UpdateNote(ctx, n.ID, n.OwnerID, upd)
		if err != nil {
			metrics.GraphSyncs.WithLabelValues("error").Inc()
			return fmt.Errorf("graph: remove %s: cascade to %s: %w", deleted.ID, n.ID, err)
		}
		*n = *updated
	}

	if err := s.store.DeleteNote(ctx, deleted.ID, deleted.OwnerID); err != nil {
		return fmt.Errorf("graph: remove %s: %w", deleted.ID, err)
	}
	metrics.GraphSyncs.WithLabelValues("ok").Inc()
	s.logger.Debug("graph: removed", slog.String("note", deleted.ID))
	return nil
}

// sameEdges compares edge lists ignoring timestamps.
func sameEdges(a, b []models.BacklinkEdge) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].SourceNoteID != b[i].SourceNoteID || a[i].Context != b[i].Context {
			return false
		}
	}
	return true
}
