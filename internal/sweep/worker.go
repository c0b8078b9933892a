// Package sweep periodically refreshes references and suggestions for every
// note in the store.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/metrics"
	"github.com/starford/notegraph/internal/models"
)

// Source lists what to sweep.
type Source interface {
	Owners(ctx context.Context) ([]string, error)
	GetAllNotes(ctx context.Context, ownerID string) ([]models.Note, error)
}

// Generator refreshes one note.
type Generator interface {
	Generate(ctx context.Context, ownerID, noteID string) (*models.Note, error)
}

// Config tunes a Worker.
type Config struct {
	// Interval between scheduled sweeps.
	Interval time.Duration
	// Throttle is the minimum time between two passes over the same note.
	Throttle time.Duration
}

// Result summarizes one sweep.
type Result struct {
	Owners    int
	Processed int
	Throttled int
	Failed    int
	Skipped   bool
}

// Worker runs sweeps on a ticker or on demand. At most one sweep runs at a
// time; a sweep requested while another is running is skipped, not queued.
type Worker struct {
	source Source
	gen    Generator
	cfg    Config
	logger *slog.Logger
	notify func(ownerID string, note *models.Note)
	now    func() time.Time

	running atomic.Bool
	trigger chan struct{}

	mu   sync.Mutex
	last map[string]time.Time
}

// New creates a Worker. notify, when non-nil, is called for each refreshed note.
func New(source Source, gen Generator, cfg Config, logger *slog.Logger, notify func(ownerID string, note *models.Note)) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &Worker{
		source:  source,
		gen:     gen,
		cfg:     cfg,
		logger:  logger,
		notify:  notify,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		last:    make(map[string]time.Time),
	}
}

// Run sweeps every Interval and whenever Trigger is called, until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	w.logger.Info("sweep: started", slog.Duration("interval", w.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweep: stopped")
			return nil
		case <-ticker.C:
		case <-w.trigger:
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			w.Sweep(ctx)
		}()
	}
}

// Trigger requests a sweep without waiting for it.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Sweep runs one pass over every owner's notes.
func (w *Worker) Sweep(ctx context.Context) Result {
	if !w.running.CompareAndSwap(false, true) {
		metrics.SweepsSkipped.Inc()
		w.logger.Debug("sweep: previous sweep still running, skipped")
		return Result{Skipped: true}
	}
	defer w.running.Store(false)

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()
	// Every note of this pass is stamped with the same time.
	at := w.now()

	var res Result
	owners, err := w.source.Owners(ctx)
	if err != nil {
		w.logger.Error("sweep: list owners failed", slog.String("error", err.Error()))
		return res
	}
	res.Owners = len(owners)

	for _, owner := range owners {
		notes, err := w.source.GetAllNotes(ctx, owner)
		if err != nil {
			w.logger.Error("sweep: list notes failed", slog.String("owner", owner), slog.String("error", err.Error()))
			continue
		}
		for _, n := range notes {
			if ctx.Err() != nil {
				return res
			}
			if !w.due(owner, n.ID, at) {
				res.Throttled++
				continue
			}
			updated, err := w.gen.Generate(ctx, owner, n.ID)
			w.mark(owner, n.ID, at)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					continue
				}
				res.Failed++
				w.logger.Warn("sweep: generate failed",
					slog.String("owner", owner),
					slog.String("note", n.ID),
					slog.String("error", err.Error()))
				continue
			}
			res.Processed++
			if w.notify != nil {
				w.notify(owner, updated)
			}
		}
	}

	w.logger.Info("sweep: done",
		slog.Int("owners", res.Owners),
		slog.Int("processed", res.Processed),
		slog.Int("throttled", res.Throttled),
		slog.Int("failed", res.Failed),
		slog.Duration("took", time.Since(start)))
	return res
}

// throttleSlack absorbs ticker jitter so a note swept on one tick is due
// again on the next when Throttle equals Interval.
const throttleSlack = time.Second

func (w *Worker) due(owner, id string, at time.Time) bool {
	if w.cfg.Throttle <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.last[owner+"/"+id]
	return !ok || at.Sub(last)+throttleSlack >= w.cfg.Throttle
}

func (w *Worker) mark(owner, id string, at time.Time) {
	w.mu.Lock()
	w.last[owner+"/"+id] = at
	w.mu.Unlock()
}
