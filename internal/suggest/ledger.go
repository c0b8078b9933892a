package suggest

import (
	"context"
	"sync"
	"time"

	"github.com/starford/notegraph/internal/models"
)

// Decision is the recorded outcome for a (source, target) pair.
type Decision struct {
	State models.SuggestionState `json:"state"`
	// ContentHash is the source note's content hash when the decision was
	// made. A rejection only applies while the source still has this hash.
	ContentHash string `json:"content_hash"`
	// Context is the suggestion's context at acceptance. It becomes the
	// backlink context while no marker names the target.
	Context   string    `json:"context,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Ledger remembers accept/reject decisions per owner and source note.
type Ledger interface {
	Get(ctx context.Context, ownerID, sourceID, targetID string) (Decision, bool, error)
	Put(ctx context.Context, ownerID, sourceID, targetID string, d Decision) error
	// ForSource returns every decision recorded for sourceID keyed by target.
	ForSource(ctx context.Context, ownerID, sourceID string) (map[string]Decision, error)
	// Forget drops every decision where noteID is the source or the target.
	Forget(ctx context.Context, ownerID, noteID string) error
	Close() error
}

type pairKey struct {
	owner, source, target string
}

// MemoryLedger keeps decisions in process memory; they are lost on restart.
type MemoryLedger struct {
	mu        sync.RWMutex
	decisions map[pairKey]Decision
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{decisions: make(map[pairKey]Decision)}
}

func (l *MemoryLedger) Get(_ context.Context, ownerID, sourceID, targetID string) (Decision, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.decisions[pairKey{ownerID, sourceID, targetID}]
	return d, ok, nil
}

func (l *MemoryLedger) Put(_ context.Context, ownerID, sourceID, targetID string, d Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions[pairKey{ownerID, sourceID, targetID}] = d
	return nil
}

func (l *MemoryLedger) ForSource(_ context.Context, ownerID, sourceID string) (map[string]Decision, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Decision)
	for k, d := range l.decisions {
		if k.owner == ownerID && k.source == sourceID {
			out[k.target] = d
		}
	}
	return out, nil
}

func (l *MemoryLedger) Forget(_ context.Context, ownerID, noteID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.decisions {
		if k.owner == ownerID && (k.source == noteID || k.target == noteID) {
			delete(l.decisions, k)
		}
	}
	return nil
}

func (l *MemoryLedger) Close() error { return nil }
