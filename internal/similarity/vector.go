package similarity

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/starford/notegraph/internal/checksum"
	"github.com/starford/notegraph/internal/models"
)

// Vector scores by cosine similarity of embeddings. It keeps one embedding
// per note, replaced when the note's content hash changes.
type Vector struct {
	embedder Embedder

	mu    sync.Mutex
	cache map[string]cachedEmbedding
}

type cachedEmbedding struct {
	hash   string
	vector []float64
}

// NewVector creates a vector scorer over e.
func NewVector(e Embedder) *Vector {
	return &Vector{embedder: e, cache: make(map[string]cachedEmbedding)}
}

func (v *Vector) Name() string { return StrategyVector }

// Score returns the cosine similarity clamped to [0,1]. An unavailable
// provider scores every pair 0.
func (v *Vector) Score(ctx context.Context, source, candidate models.Note) (float64, error) {
	if !v.embedder.Available(ctx) {
		return 0, nil
	}
	a, err := v.embedding(ctx, source)
	if err != nil {
		return 0, err
	}
	b, err := v.embedding(ctx, candidate)
	if err != nil {
		return 0, err
	}
	sim, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return Clamp(sim), nil
}

// Forget drops the cached embedding of a deleted note.
func (v *Vector) Forget(ownerID, noteID string) {
	v.mu.Lock()
	delete(v.cache, ownerID+"/"+noteID)
	v.mu.Unlock()
}

func (v *Vector) embedding(ctx context.Context, n models.Note) ([]float64, error) {
	key := n.OwnerID + "/" + n.ID
	hash := checksum.String(n.Content)
	v.mu.Lock()
	cached, ok := v.cache[key]
	v.mu.Unlock()
	if ok && cached.hash == hash {
		return cached.vector, nil
	}

	emb, err := v.embedder.Embed(ctx, n.Content)
	if err != nil {
		return nil, fmt.Errorf("similarity: embed: %w", err)
	}
	v.mu.Lock()
	v.cache[key] = cachedEmbedding{hash: hash, vector: emb}
	v.mu.Unlock()
	return emb, nil
}

// Cosine returns the cosine similarity of a and b. A zero vector yields 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("similarity: dimension mismatch %d != %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(a, b) / (na * nb), nil
}
