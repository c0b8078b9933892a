package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/starford/notegraph/internal/llm"
	"github.com/starford/notegraph/internal/noteservice"
	"github.com/starford/notegraph/internal/ops"
	"github.com/starford/notegraph/internal/similarity"
	"github.com/starford/notegraph/internal/store"
	"github.com/starford/notegraph/internal/suggest"
	"github.com/starford/notegraph/internal/sweep"
)

var errConfigRequired = errors.New("config is required")

// core holds the components shared by every command.
type core struct {
	store   *store.SQLite
	manager *suggest.Manager
	svc     *noteservice.Service
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openCore opens the store and the decision ledger and wires the knowledge
// engine. events may be nil.
func openCore(ctx context.Context, cfg *Config, logger *slog.Logger, events noteservice.Publisher) (*core, error) {
	st, err := store.OpenSQLite(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var ledger suggest.Ledger = suggest.NewMemoryLedger()
	if cfg.Ledger.Path != "" {
		bl, err := suggest.OpenBadgerLedger(cfg.Ledger.Path)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		ledger = bl
	}

	var (
		embedder similarity.Embedder
		gen      llm.Generator
	)
	if cfg.LLM.Enabled {
		client := llm.New(cfg.LLM.Client(), logger)
		embedder = client
		if cfg.Knowledge.Describe {
			gen = client
		}
	}

	scorer, err := similarity.Select(ctx, cfg.Knowledge.Strategy, embedder, logger)
	if err != nil {
		ledger.Close()
		st.Close()
		return nil, fmt.Errorf("init scorer: %w", err)
	}
	logger.Info("Knowledge engine ready",
		slog.String("scorer", scorer.Name()),
		slog.Float64("threshold", cfg.Knowledge.Threshold),
		slog.Bool("persistent_ledger", cfg.Ledger.Path != ""),
		slog.Bool("llm", cfg.LLM.Enabled))

	manager := suggest.NewManager(st, scorer,
		suggest.WithThreshold(cfg.Knowledge.Threshold),
		suggest.WithConcurrency(cfg.Knowledge.Concurrency),
		suggest.WithDescriber(similarity.NewDescriber(gen, cfg.LLM.Options(), logger)),
		suggest.WithLedger(ledger),
		suggest.WithLogger(logger),
	)
	registry := ops.NewRegistry(cfg.Operations.DefaultTimeout, cfg.Operations.LongTimeout)

	return &core{
		store:   st,
		manager: manager,
		svc:     noteservice.NewService(st, manager, registry, events, logger),
	}, nil
}

func (c *core) sweeper(cfg *Config, logger *slog.Logger) *sweep.Worker {
	return sweep.New(c.store, c.manager, cfg.Sweep.Worker(), logger, c.svc.NoteRefreshed)
}

func (c *core) Close() error {
	return errors.Join(c.manager.Close(), c.store.Close())
}
