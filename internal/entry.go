// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notegraph/internal/api"
	"github.com/starford/notegraph/internal/mcpserver"
	"github.com/starford/notegraph/internal/sse"
	"github.com/starford/notegraph/internal/sweep"
	"github.com/starford/notegraph/internal/vault"
)

// Run starts the HTTP server and the background workers with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)
	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker. Subscribers see only their own owner's events.
	broker := sse.NewBroker(2*time.Second, api.OwnerFromRequest)
	defer broker.Close()

	c, err := openCore(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Close error", slog.String("error", err.Error()))
		}
	}()

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, cfg.App.DefaultOwner)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := c.store.Owners(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	worker := c.sweeper(cfg, logger)
	if cfg.Sweep.Enabled {
		g.Go(func() error {
			return worker.Run(gCtx)
		})
	}

	if cfg.Vault.Path != "" {
		g.Go(func() error {
			return runVault(gCtx, cfg, c, worker, logger)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop the workers.
		stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// runVault mirrors the vault directory, asks for a sweep so references to
// files mirrored later get resolved, then watches for changes.
func runVault(ctx context.Context, cfg *Config, c *core, worker *sweep.Worker, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	dir, err := vault.NewDir(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	mirror := vault.NewMirror(dir, c.svc, cfg.Vault.Owner, logger, func(kind, path string) {
		logger.Debug("vault: change mirrored", slog.String("kind", kind), slog.String("path", path))
	})

	if err := mirror.Reconcile(ctx); err != nil {
		logger.Warn("vault: initial reconcile failed", slog.String("error", err.Error()))
	}
	if cfg.Sweep.Enabled {
		worker.Trigger()
	} else {
		worker.Sweep(ctx)
	}

	if err := mirror.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("vault watch: %w", err)
	}
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stderr)

	c, err := openCore(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("Starting MCP server", slog.String("version", app.version))
	return mcpserver.New(c.svc, cfg.App.DefaultOwner, app.version).ServeStdio()
}

// RunSweep performs a single sweep over every owner and exits.
func RunSweep(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stdout)

	c, err := openCore(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	res := c.sweeper(cfg, logger).Sweep(ctx)
	logger.Info("Sweep finished",
		slog.Int("owners", res.Owners),
		slog.Int("processed", res.Processed),
		slog.Int("throttled", res.Throttled),
		slog.Int("failed", res.Failed))
	if res.Failed > 0 {
		return fmt.Errorf("sweep: %d notes failed", res.Failed)
	}
	return nil
}
