// Package suggest runs the suggestion lifecycle: generating similarity-based
// link suggestions for a note and resolving them through accept and reject.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/checksum"
	"github.com/starford/notegraph/internal/graph"
	"github.com/starford/notegraph/internal/llm"
	"github.com/starford/notegraph/internal/metrics"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/similarity"
	"github.com/starford/notegraph/internal/store"
)

const defaultConcurrency = 8

// Option configures a Manager.
type Option func(*Manager)

// WithThreshold sets the minimum relevance for a suggestion.
func WithThreshold(t float64) Option {
	return func(m *Manager) { m.threshold = t }
}

// WithConcurrency bounds the number of candidates scored at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithDescriber sets how suggestion contexts are written.
func WithDescriber(d *similarity.Describer) Option {
	return func(m *Manager) { m.describer = d }
}

// WithLedger sets the decision ledger. The default is a MemoryLedger.
func WithLedger(l Ledger) Option {
	return func(m *Manager) { m.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

type cacheEntry struct {
	hash        string
	suggestions []models.SuggestionEdge
}

// Manager owns all suggestion state for a note collection: the content-hash
// cache, the decision ledger and the per-owner write locks. Every graph
// write for an owner goes through the owner's lock.
type Manager struct {
	store       store.NoteStore
	syncer      *graph.Synchronizer
	scorer      similarity.Scorer
	describer   *similarity.Describer
	ledger      Ledger
	threshold   float64
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	locks keyedMutex

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager scoring with scorer and persisting through st.
func NewManager(st store.NoteStore, scorer similarity.Scorer, opts ...Option) *Manager {
	m := &Manager{
		store:       st,
		scorer:      scorer,
		threshold:   similarity.DefaultThreshold,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		cache:       make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ledger == nil {
		m.ledger = NewMemoryLedger()
	}
	if m.describer == nil {
		m.describer = similarity.NewDescriber(nil, llm.Options{}, m.logger)
	}
	m.syncer = graph.NewSynchronizer(st, m.logger)
	return m
}

// Exclusive runs fn while holding ownerID's write lock.
func (m *Manager) Exclusive(ctx context.Context, ownerID string, fn func(ctx context.Context) error) error {
	unlock := m.locks.Lock(ownerID)
	defer unlock()
	return fn(ctx)
}

// Sync recomputes references and backlinks for one note without touching
// suggestions.
func (m *Manager) Sync(ctx context.Context, ownerID, noteID string) (*models.Note, error) {
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	notes, source, err := m.load(ctx, ownerID, noteID)
	if err != nil {
		return nil, err
	}
	return m.syncLocked(ctx, ownerID, *source, notes)
}

// Generate synchronizes the note's references and refreshes its pending
// suggestions. When the content hash matches the last generation the cached
// candidates are reused; otherwise every other note is rescored.
func (m *Manager) Generate(ctx context.Context, ownerID, noteID string) (*models.Note, error) {
	unlock := m.locks.Lock(ownerID)
	notes, source, err := m.load(ctx, ownerID, noteID)
	if err != nil {
		unlock()
		return nil, err
	}
	synced, err := m.syncLocked(ctx, ownerID, *source, notes)
	if err != nil {
		unlock()
		return nil, err
	}
	hash := checksum.String(synced.Content)

	if entry, ok := m.cached(ownerID, noteID); ok && entry.hash == hash {
		defer unlock()
		metrics.SuggestionCacheHits.Inc()
		return m.commit(ctx, ownerID, *synced, notes, entry.suggestions)
	}
	unlock()

	// Scoring runs unlocked; the result is committed only if the note still
	// has the content that was scored.
	scored, err := m.score(ctx, *synced, notes)
	if err != nil {
		return nil, err
	}

	unlock = m.locks.Lock(ownerID)
	defer unlock()
	notes, current, err := m.load(ctx, ownerID, noteID)
	if err != nil {
		return nil, err
	}
	if checksum.String(current.Content) != hash {
		m.logger.Info("suggest: content changed while scoring, result discarded", slog.String("note", noteID))
		return current, nil
	}

	m.mu.Lock()
	m.cache[cacheKey(ownerID, noteID)] = cacheEntry{hash: hash, suggestions: scored}
	m.mu.Unlock()

	return m.commit(ctx, ownerID, *current, notes, scored)
}

// Accept records the pair as accepted and turns it into a reference from
// sourceID to targetID with the matching backlink. Accepting twice is a no-op.
func (m *Manager) Accept(ctx context.Context, ownerID, sourceID, targetID string) (*models.Note, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("suggest: accept: note cannot link to itself: %w", apperr.ErrInvalidArgument)
	}
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	notes, source, err := m.load(ctx, ownerID, sourceID)
	if err != nil {
		return nil, err
	}
	if !containsNote(notes, targetID) {
		return nil, fmt.Errorf("suggest: accept: target %s: %w", targetID, apperr.ErrNotFound)
	}
	hash := checksum.String(source.Content)

	d, ok, err := m.ledger.Get(ctx, ownerID, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	if ok && d.State == models.SuggestionRejected && d.ContentHash == hash {
		return nil, fmt.Errorf("suggest: accept %s -> %s: %w", sourceID, targetID, apperr.ErrInvalidTransition)
	}
	if !ok || d.State != models.SuggestionAccepted {
		if err := m.ledger.Put(ctx, ownerID, sourceID, targetID, Decision{
			State:       models.SuggestionAccepted,
			ContentHash: hash,
			Context:     suggestionContext(source, targetID),
			DecidedAt:   m.now(),
		}); err != nil {
			return nil, err
		}
		metrics.SuggestionDecisions.WithLabelValues(string(models.SuggestionAccepted)).Inc()
	}

	synced, err := m.syncLocked(ctx, ownerID, *source, notes)
	if err != nil {
		return nil, err
	}
	return m.dropSuggestion(ctx, ownerID, *synced, targetID)
}

// Reject records the pair as rejected for the source's current content and
// removes it from the active suggestions. Rejecting an accepted pair fails.
func (m *Manager) Reject(ctx context.Context, ownerID, sourceID, targetID string) (*models.Note, error) {
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	source, err := m.store.GetNote(ctx, sourceID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("suggest: reject: %w", err)
	}
	if _, err := m.store.GetNote(ctx, targetID, ownerID); err != nil {
		return nil, fmt.Errorf("suggest: reject: target %s: %w", targetID, err)
	}
	hash := checksum.String(source.Content)

	d, ok, err := m.ledger.Get(ctx, ownerID, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	if ok && d.State == models.SuggestionAccepted {
		return nil, fmt.Errorf("suggest: reject %s -> %s: %w", sourceID, targetID, apperr.ErrInvalidTransition)
	}
	if !ok || d.State != models.SuggestionRejected || d.ContentHash != hash {
		if err := m.ledger.Put(ctx, ownerID, sourceID, targetID, Decision{
			State:       models.SuggestionRejected,
			ContentHash: hash,
			DecidedAt:   m.now(),
		}); err != nil {
			return nil, err
		}
		metrics.SuggestionDecisions.WithLabelValues(string(models.SuggestionRejected)).Inc()
	}
	return m.dropSuggestion(ctx, ownerID, *source, targetID)
}

// Remove deletes a note, cascades the deletion through the graph and
// forgets every decision involving it.
func (m *Manager) Remove(ctx context.Context, ownerID, noteID string) error {
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	notes, note, err := m.load(ctx, ownerID, noteID)
	if err != nil {
		return err
	}
	if err := m.syncer.Remove(ctx, *note, notes); err != nil {
		return err
	}
	if err := m.ledger.Forget(ctx, ownerID, noteID); err != nil {
		return err
	}
	if f, ok := m.scorer.(interface{ Forget(ownerID, noteID string) }); ok {
		f.Forget(ownerID, noteID)
	}
	m.mu.Lock()
	delete(m.cache, cacheKey(ownerID, noteID))
	m.mu.Unlock()
	return nil
}

// Close releases the ledger.
func (m *Manager) Close() error {
	return m.ledger.Close()
}

func (m *Manager) load(ctx context.Context, ownerID, noteID string) ([]models.Note, *models.Note, error) {
	notes, err := m.store.GetAllNotes(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("suggest: load notes: %w", err)
	}
	for i := range notes {
		if notes[i].ID == noteID {
			return notes, &notes[i], nil
		}
	}
	return nil, nil, fmt.Errorf("suggest: note %s: %w", noteID, apperr.ErrNotFound)
}

// syncLocked runs the synchronizer with accepted targets pinned so that an
// accepted link survives content edits that drop its marker.
func (m *Manager) syncLocked(ctx context.Context, ownerID string, source models.Note, notes []models.Note) (*models.Note, error) {
	decisions, err := m.ledger.ForSource(ctx, ownerID, source.ID)
	if err != nil {
		return nil, err
	}
	var pinned []graph.Pin
	for target, d := range decisions {
		if d.State == models.SuggestionAccepted {
			pinned = append(pinned, graph.Pin{ID: target, Context: d.Context})
		}
	}
	sort.Slice(pinned, func(i, j int) bool { return pinned[i].ID < pinned[j].ID })
	return m.syncer.Sync(ctx, source, notes, pinned...)
}

func (m *Manager) cached(ownerID, noteID string) (cacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[cacheKey(ownerID, noteID)]
	return e, ok
}

// score rates every other unreferenced note concurrently. A candidate that
// fails to score is logged and left out.
func (m *Manager) score(ctx context.Context, source models.Note, notes []models.Note) ([]models.SuggestionEdge, error) {
	candidates := make([]models.Note, 0, len(notes))
	for _, n := range notes {
		if n.ID == source.ID || source.HasReference(n.ID) {
			continue
		}
		candidates = append(candidates, n)
	}

	results := make([]*models.SuggestionEdge, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, cand := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rel, err := m.scorer.Score(gctx, source, cand)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				metrics.ScoringFailures.WithLabelValues("score").Inc()
				m.logger.Warn("suggest: scoring failed",
					slog.String("source", source.ID),
					slog.String("candidate", cand.ID),
					slog.String("scorer", m.scorer.Name()),
					slog.String("error", err.Error()))
				return nil
			}
			rel = similarity.Clamp(rel)
			if rel < m.threshold {
				return nil
			}
			results[i] = &models.SuggestionEdge{
				TargetNoteID: cand.ID,
				Relevance:    rel,
				Context:      m.describer.Describe(gctx, source, cand, rel),
				State:        models.SuggestionPending,
				Timestamp:    m.now(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("suggest: generate %s: %w", source.ID, apperr.ErrCancelled)
		}
		return nil, fmt.Errorf("suggest: generate %s: %w", source.ID, err)
	}

	out := make([]models.SuggestionEdge, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out, nil
}

// commit filters suggestions against the current graph and ledger and
// persists them as the note's pending list.
func (m *Manager) commit(ctx context.Context, ownerID string, source models.Note, notes []models.Note, suggestions []models.SuggestionEdge) (*models.Note, error) {
	decisions, err := m.ledger.ForSource(ctx, ownerID, source.ID)
	if err != nil {
		return nil, err
	}
	hash := checksum.String(source.Content)

	active := make([]models.SuggestionEdge, 0, len(suggestions))
	for _, s := range suggestions {
		switch {
		case s.TargetNoteID == source.ID:
		case source.HasReference(s.TargetNoteID):
		case !containsNote(notes, s.TargetNoteID):
		case rejected(decisions, s.TargetNoteID, hash):
		default:
			active = append(active, s)
		}
	}

	updated, err := m.store.UpdateNote(ctx, source.ID, ownerID, store.NoteUpdate{SuggestedLinks: &active})
	if err != nil {
		return nil, fmt.Errorf("suggest: persist suggestions: %w", err)
	}
	metrics.SuggestionsGenerated.Add(float64(len(active)))
	return updated, nil
}

func (m *Manager) dropSuggestion(ctx context.Context, ownerID string, source models.Note, targetID string) (*models.Note, error) {
	kept := make([]models.SuggestionEdge, 0, len(source.SuggestedLinks))
	for _, s := range source.SuggestedLinks {
		if s.TargetNoteID != targetID {
			kept = append(kept, s)
		}
	}
	updated, err := m.store.UpdateNote(ctx, source.ID, ownerID, store.NoteUpdate{SuggestedLinks: &kept})
	if err != nil {
		return nil, fmt.Errorf("suggest: persist suggestions: %w", err)
	}
	return updated, nil
}

func suggestionContext(source *models.Note, targetID string) string {
	for _, s := range source.SuggestedLinks {
		if s.TargetNoteID == targetID {
			return s.Context
		}
	}
	return ""
}

func rejected(decisions map[string]Decision, targetID, hash string) bool {
	d, ok := decisions[targetID]
	return ok && d.State == models.SuggestionRejected && d.ContentHash == hash
}

func containsNote(notes []models.Note, id string) bool {
	for _, n := range notes {
		if n.ID == id {
			return true
		}
	}
	return false
}

func cacheKey(ownerID, noteID string) string {
	return ownerID + keySep + noteID
}
