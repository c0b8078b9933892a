// Package ops registers cancellable user operations keyed by an id.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/metrics"
)

// Tier selects an operation timeout.
type Tier int

const (
	// TierDefault is for ordinary requests.
	TierDefault Tier = iota
	// TierLong is for heavier work such as a full suggestion pass.
	TierLong
)

// Registry tracks in-flight operations so they can be cancelled by id.
type Registry struct {
	defaultTimeout time.Duration
	longTimeout    time.Duration

	mu  sync.Mutex
	ops map[string]*Operation
}

// NewRegistry creates a Registry with the two timeout tiers.
func NewRegistry(defaultTimeout, longTimeout time.Duration) *Registry {
	return &Registry{
		defaultTimeout: defaultTimeout,
		longTimeout:    longTimeout,
		ops:            make(map[string]*Operation),
	}
}

// Operation is a registered operation. Done must be called when the work
// finishes.
type Operation struct {
	ID  string
	Ctx context.Context

	reg    *Registry
	cancel context.CancelFunc
}

// Start registers an operation under id (a new uuid when empty) and returns
// its context, bounded by the tier's timeout. A duplicate id in flight is
// rejected with apperr.ErrConflict.
func (r *Registry) Start(ctx context.Context, id string, tier Tier) (*Operation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	timeout := r.defaultTimeout
	if tier == TierLong {
		timeout = r.longTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ops[id]; dup {
		return nil, fmt.Errorf("ops: operation %s already running: %w", id, apperr.ErrConflict)
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	op := &Operation{ID: id, Ctx: opCtx, reg: r, cancel: cancel}
	r.ops[id] = op
	return op, nil
}

// Cancel aborts the operation with id. It reports whether one was running.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	op, ok := r.ops[id]
	delete(r.ops, id)
	r.mu.Unlock()
	if ok {
		op.cancel()
		metrics.OperationsCancelled.WithLabelValues("cancelled").Inc()
	}
	return ok
}

// Running returns the number of registered operations.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Done unregisters the operation and releases its context. A later operation
// registered under the same id stays registered.
func (o *Operation) Done() {
	if errors.Is(o.Ctx.Err(), context.DeadlineExceeded) {
		metrics.OperationsCancelled.WithLabelValues("timeout").Inc()
	}
	o.reg.mu.Lock()
	if o.reg.ops[o.ID] == o {
		delete(o.reg.ops, o.ID)
	}
	o.reg.mu.Unlock()
	o.cancel()
}

// Err translates the operation's context error into an apperr sentinel, or
// returns err unchanged when the operation was not cancelled.
func (o *Operation) Err(err error) error {
	if err == nil || o.Ctx.Err() == nil {
		return err
	}
	if errors.Is(err, apperr.ErrCancelled) {
		return err
	}
	return fmt.Errorf("ops: operation %s: %w", o.ID, apperr.ErrCancelled)
}
