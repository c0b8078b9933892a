package suggest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/checksum"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/similarity"
	"github.com/starford/notegraph/internal/store"
)

const owner = "u1"

func newStore(t *testing.T, notes ...models.Note) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	for _, n := range notes {
		n.OwnerID = owner
		_, err := st.CreateNote(context.Background(), n)
		require.NoError(t, err)
	}
	return st
}

func get(t *testing.T, st store.NoteStore, id string) *models.Note {
	t.Helper()
	n, err := st.GetNote(context.Background(), id, owner)
	require.NoError(t, err)
	return n
}

func targets(n *models.Note) []string {
	out := make([]string, 0, len(n.SuggestedLinks))
	for _, s := range n.SuggestedLinks {
		out = append(out, s.TargetNoteID)
	}
	return out
}

func countBacklinks(n *models.Note, from string) int {
	c := 0
	for _, e := range n.Backlinks {
		if e.SourceNoteID == from {
			c++
		}
	}
	return c
}

// countingScorer wraps Lexical and counts calls; it fails for failID.
type countingScorer struct {
	calls  atomic.Int32
	failID string
}

func (c *countingScorer) Name() string { return "counting" }

func (c *countingScorer) Score(ctx context.Context, a, b models.Note) (float64, error) {
	c.calls.Add(1)
	if b.ID == c.failID {
		return 0, errors.New("scorer exploded")
	}
	return similarity.Lexical{}.Score(ctx, a, b)
}

// gatedScorer scores like Lexical but holds its first call until released.
type gatedScorer struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedScorer() *gatedScorer {
	return &gatedScorer{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedScorer) Name() string { return "gated" }

func (g *gatedScorer) Score(ctx context.Context, a, b models.Note) (float64, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	return similarity.Lexical{}.Score(ctx, a, b)
}

func TestGenerate_Example2Threshold(t *testing.T) {
	notes := []models.Note{
		{ID: "a1", Content: "the quick brown fox"},
		{ID: "b1", Content: "the quick brown dog"},
	}
	ctx := context.Background()

	st := newStore(t, notes...)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0.7))
	a, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.Empty(t, a.SuggestedLinks)

	st = newStore(t, notes...)
	m = NewManager(st, similarity.Lexical{}, WithThreshold(0.5))
	a, err = m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	require.Len(t, a.SuggestedLinks, 1)
	s := a.SuggestedLinks[0]
	assert.Equal(t, "b1", s.TargetNoteID)
	assert.InDelta(t, 0.6, s.Relevance, 1e-9)
	assert.Equal(t, "Relevance score: 60.00%", s.Context)
	assert.Equal(t, models.SuggestionPending, s.State)
}

func TestGenerate_DefaultThreshold(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "the quick brown fox"},
		models.Note{ID: "b1", Content: "the quick brown dog"},
	)
	m := NewManager(st, similarity.Lexical{})
	a, err := m.Generate(context.Background(), owner, "a1")
	require.NoError(t, err)
	assert.Empty(t, a.SuggestedLinks)
}

func TestGenerate_RangeAndNoSelf(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "alpha beta gamma"},
		models.Note{ID: "b1", Content: "alpha beta gamma"},
		models.Note{ID: "c1", Content: "alpha beta delta"},
		models.Note{ID: "d1", Content: "unrelated words entirely"},
	)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0))
	ctx := context.Background()
	for _, id := range []string{"a1", "b1", "c1", "d1"} {
		n, err := m.Generate(ctx, owner, id)
		require.NoError(t, err)
		assert.NotContains(t, targets(n), id)
		assert.Len(t, n.SuggestedLinks, 3)
		for _, s := range n.SuggestedLinks {
			assert.GreaterOrEqual(t, s.Relevance, 0.0)
			assert.LessOrEqual(t, s.Relevance, 1.0)
		}
	}
}

func TestGenerate_ExcludesReferencedNotes(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "shared words here [[b1]]"},
		models.Note{ID: "b1", Content: "shared words here"},
		models.Note{ID: "c1", Content: "shared words here"},
	)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0.1))
	a, err := m.Generate(context.Background(), owner, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, a.References)
	assert.Equal(t, []string{"c1"}, targets(a))
}

func TestGenerate_IsolatesScoringFailures(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "same text"},
		models.Note{ID: "b1", Content: "same text"},
		models.Note{ID: "c1", Content: "same text"},
	)
	m := NewManager(st, &countingScorer{failID: "b1"}, WithThreshold(0.5))
	a, err := m.Generate(context.Background(), owner, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, targets(a))
}

func TestGenerate_ReusesCacheWhenContentUnchanged(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "same text"},
		models.Note{ID: "b1", Content: "same text"},
	)
	scorer := &countingScorer{}
	m := NewManager(st, scorer, WithThreshold(0.5))
	ctx := context.Background()

	_, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	require.Equal(t, int32(1), scorer.calls.Load())

	a, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), scorer.calls.Load())
	assert.Equal(t, []string{"b1"}, targets(a))

	changed := "same text edited"
	_, err = st.UpdateNote(ctx, "a1", owner, store.NoteUpdate{Content: &changed})
	require.NoError(t, err)
	_, err = m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), scorer.calls.Load())
}

func TestAccept_Idempotent(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "same text"},
		models.Note{ID: "b1", Content: "same text"},
	)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0.5))
	ctx := context.Background()

	_, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)

	for range 2 {
		a, err := m.Accept(ctx, owner, "a1", "b1")
		require.NoError(t, err)
		assert.Equal(t, []string{"b1"}, a.References)
		assert.Empty(t, a.SuggestedLinks)
	}
	b := get(t, st, "b1")
	assert.Equal(t, 1, countBacklinks(b, "a1"))
	require.Len(t, b.Backlinks, 1)
	assert.Equal(t, "Relevance score: 100.00%", b.Backlinks[0].Context)

	// A later generation keeps the accepted link and does not resuggest it.
	a, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, a.References)
	assert.Empty(t, a.SuggestedLinks)
}

func TestAccept_SurvivesContentEdit(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "first draft"},
		models.Note{ID: "b1", Content: "other"},
	)
	m := NewManager(st, similarity.Lexical{})
	ctx := context.Background()

	_, err := m.Accept(ctx, owner, "a1", "b1")
	require.NoError(t, err)

	edited := "completely rewritten"
	_, err = st.UpdateNote(ctx, "a1", owner, store.NoteUpdate{Content: &edited})
	require.NoError(t, err)

	a, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, a.References)
	assert.Equal(t, 1, countBacklinks(get(t, st, "b1"), "a1"))
}

func TestReject_Stability(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "same text here"},
		models.Note{ID: "b1", Content: "same text here"},
		models.Note{ID: "c1", Content: "same text here"},
	)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0.5))
	ctx := context.Background()

	a, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b1", "c1"}, targets(a))

	a, err = m.Reject(ctx, owner, "a1", "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, targets(a))

	a, err = m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, targets(a))

	// Once the source content changes the rejection no longer applies.
	edited := "same text here too"
	_, err = st.UpdateNote(ctx, "a1", owner, store.NoteUpdate{Content: &edited})
	require.NoError(t, err)
	a, err = m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "c1"}, targets(a))
}

func TestTransitions_Terminal(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "x"},
		models.Note{ID: "b1", Content: "y"},
		models.Note{ID: "c1", Content: "z"},
	)
	m := NewManager(st, similarity.Lexical{})
	ctx := context.Background()

	_, err := m.Reject(ctx, owner, "a1", "b1")
	require.NoError(t, err)
	_, err = m.Reject(ctx, owner, "a1", "b1")
	require.NoError(t, err)
	_, err = m.Accept(ctx, owner, "a1", "b1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = m.Accept(ctx, owner, "a1", "c1")
	require.NoError(t, err)
	_, err = m.Reject(ctx, owner, "a1", "c1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestAcceptReject_Errors(t *testing.T) {
	st := newStore(t, models.Note{ID: "a1", Content: "x"})
	m := NewManager(st, similarity.Lexical{})
	ctx := context.Background()

	_, err := m.Accept(ctx, owner, "a1", "a1")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = m.Accept(ctx, owner, "a1", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = m.Reject(ctx, owner, "missing", "a1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = m.Generate(ctx, owner, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemove_CascadesAndForgets(t *testing.T) {
	ledger := NewMemoryLedger()
	st := newStore(t,
		models.Note{ID: "c1", Content: "same words"},
		models.Note{ID: "d1", Content: "same words [[c1]]."},
		models.Note{ID: "e1", Content: "same words"},
	)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0.5), WithLedger(ledger))
	ctx := context.Background()

	_, err := m.Generate(ctx, owner, "d1")
	require.NoError(t, err)
	_, err = m.Generate(ctx, owner, "e1")
	require.NoError(t, err)
	_, err = m.Reject(ctx, owner, "e1", "c1")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, owner, "c1"))

	d := get(t, st, "d1")
	assert.NotContains(t, d.References, "c1")
	assert.NotContains(t, targets(d), "c1")
	e := get(t, st, "e1")
	assert.NotContains(t, targets(e), "c1")

	decisions, err := ledger.ForSource(ctx, owner, "e1")
	require.NoError(t, err)
	assert.Empty(t, decisions)

	_, err = st.GetNote(ctx, "c1", owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGenerate_Cancelled(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "x"},
		models.Note{ID: "b1", Content: "x"},
	)
	m := NewManager(st, similarity.Lexical{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, owner, "a1")
	assert.Error(t, err)
}

func TestAccept_ContextSurvivesResync(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "same text"},
		models.Note{ID: "b1", Content: "same text"},
	)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0.5))
	ctx := context.Background()

	_, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	_, err = m.Accept(ctx, owner, "a1", "b1")
	require.NoError(t, err)

	edited := "same text rewritten"
	_, err = st.UpdateNote(ctx, "a1", owner, store.NoteUpdate{Content: &edited})
	require.NoError(t, err)
	_, err = m.Sync(ctx, owner, "a1")
	require.NoError(t, err)

	b := get(t, st, "b1")
	require.Len(t, b.Backlinks, 1)
	assert.Equal(t, "Relevance score: 100.00%", b.Backlinks[0].Context)
}

func TestGenerate_DiscardsScoresOfReplacedContent(t *testing.T) {
	st := newStore(t,
		models.Note{ID: "a1", Content: "same text"},
		models.Note{ID: "b1", Content: "same text"},
	)
	scorer := newGatedScorer()
	m := NewManager(st, scorer, WithThreshold(0.5))
	ctx := context.Background()

	type result struct {
		note *models.Note
		err  error
	}
	done := make(chan result, 1)
	go func() {
		n, err := m.Generate(ctx, owner, "a1")
		done <- result{n, err}
	}()

	// While a1 is being scored its content changes and b1 gets rejected.
	<-scorer.started
	edited := "same text edited"
	_, err := st.UpdateNote(ctx, "a1", owner, store.NoteUpdate{Content: &edited})
	require.NoError(t, err)
	_, err = m.Reject(ctx, owner, "a1", "b1")
	require.NoError(t, err)
	close(scorer.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, edited, res.note.Content)
	assert.Empty(t, get(t, st, "a1").SuggestedLinks)

	d, ok, err := m.ledger.Get(ctx, owner, "a1", "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SuggestionRejected, d.State)
	assert.Equal(t, checksum.String(edited), d.ContentHash)

	// The stale result was not cached: the next pass scores the new content
	// and still honours the rejection.
	a, err := m.Generate(ctx, owner, "a1")
	require.NoError(t, err)
	assert.Empty(t, targets(a))
}

func TestConcurrentGenerateAndAccept(t *testing.T) {
	ids := []string{"a1", "b1", "c1", "d1"}
	var seedNotes []models.Note
	for _, id := range ids {
		seedNotes = append(seedNotes, models.Note{ID: id, Content: "shared words for " + id})
	}
	st := newStore(t, seedNotes...)
	m := NewManager(st, similarity.Lexical{}, WithThreshold(0.1), WithConcurrency(2))
	ctx := context.Background()

	type pair struct{ source, target string }
	var accepted []pair
	var wg sync.WaitGroup
	for i := range 4 {
		for j, src := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Generate(ctx, owner, src)
				assert.NoError(t, err)
			}()

			tgt := ids[(i+j+1)%len(ids)]
			if tgt == src {
				continue
			}
			accepted = append(accepted, pair{src, tgt})
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Accept(ctx, owner, src, tgt)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	all, err := st.GetAllNotes(ctx, owner)
	require.NoError(t, err)
	byID := make(map[string]models.Note, len(all))
	for _, n := range all {
		byID[n.ID] = n
	}
	for _, p := range accepted {
		src := byID[p.source]
		assert.Contains(t, src.References, p.target)
		assert.NotContains(t, targets(&src), p.target)
	}
	for _, n := range all {
		for _, ref := range n.References {
			target := byID[ref]
			assert.Equal(t, 1, countBacklinks(&target, n.ID), "%s -> %s", n.ID, ref)
		}
		for _, e := range n.Backlinks {
			assert.Contains(t, byID[e.SourceNoteID].References, n.ID)
		}
	}
}
