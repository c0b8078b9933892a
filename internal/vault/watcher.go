package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and mirrors file
// changes until ctx is cancelled.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a debounced reconciliation pass that removes
// notes whose files no longer exist on disk.
func (m *Mirror) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := m.dir.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	m.logger.Info("vault: watcher started", slog.String("root", root), slog.String("owner", m.owner))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			m.logger.Info("vault: watcher stopped")
			return nil

		case <-reconcileCh:
			if err := m.Reconcile(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("vault: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			m.handle(ctx, w, ev, scheduleReconcile)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("vault: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func (m *Mirror) handle(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event, scheduleReconcile func()) {
	absPath := ev.Name

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if addErr := addDirsRecursive(w, absPath); addErr != nil {
				m.logger.Warn("vault: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			}
			// Files can land in the directory before it is watched.
			m.syncNewDir(ctx, absPath)
			return
		}
	}

	if !isNote(filepath.Base(absPath)) {
		return
	}
	rel, err := m.dir.Rel(absPath)
	if err != nil {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind := "updated"
		if ev.Op&fsnotify.Create != 0 {
			kind = "created"
		}
		if err := m.upsert(ctx, rel, kind); err != nil {
			m.logger.Warn("vault: sync failed", slog.String("path", rel), slog.String("error", err.Error()))
		}

	case ev.Op&fsnotify.Remove != 0:
		if err := m.remove(ctx, rel); err != nil {
			m.logger.Warn("vault: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		}

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports the old path only; the new one arrives as a
		// Create when it stays inside a watched directory.
		if err := m.remove(ctx, rel); err != nil {
			m.logger.Warn("vault: rename delete failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		scheduleReconcile()
	}
}

func (m *Mirror) syncNewDir(ctx context.Context, dirPath string) {
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isNote(d.Name()) {
			return nil
		}
		rel, relErr := m.dir.Rel(p)
		if relErr != nil {
			return nil
		}
		if err := m.upsert(ctx, rel, "created"); err != nil {
			m.logger.Warn("vault: sync failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
		return nil
	})
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
