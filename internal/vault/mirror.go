// Package vault mirrors a directory of Markdown files into one owner's note
// collection. Each file becomes a note whose id is derived from its path.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/noteservice"
)

// namespace scopes the name-based UUIDs of vault notes.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("notegraph:vault"))

// NoteID returns the note id of the file at rel (a vault path).
func NoteID(rel string) string {
	return uuid.NewSHA1(namespace, []byte(rel)).String()
}

// fromVault reports whether id has the shape of a vault note id.
func fromVault(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.Version() == 5
}

// Sink receives mirrored notes. *noteservice.Service implements it.
type Sink interface {
	UpsertNote(ctx context.Context, ownerID, id, content string) (*noteservice.NoteDetail, error)
	DeleteNote(ctx context.Context, ownerID, id string) error
	ListNotes(ctx context.Context, ownerID string, limit, offset int, tag, sortBy string) ([]noteservice.NoteListItem, int, error)
}

// EventCallback is called after a mirrored change.
// kind is one of "created", "updated", "deleted". path is the vault path, or
// the note id for stale notes removed by Reconcile.
type EventCallback func(kind, path string)

// Mirror keeps the owner's collection in line with the vault directory.
type Mirror struct {
	dir    *Dir
	sink   Sink
	owner  string
	logger *slog.Logger
	cb     EventCallback
}

// NewMirror creates a mirror of dir into owner's notes. cb may be nil.
func NewMirror(dir *Dir, sink Sink, owner string, logger *slog.Logger, cb EventCallback) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{dir: dir, sink: sink, owner: owner, logger: logger, cb: cb}
}

// Reconcile walks the vault and brings the collection up to date:
//   - new/changed files are upserted (unchanged ones are no-ops)
//   - vault notes whose file is gone are deleted
//
// Notes that were not created from the vault are left alone.
func (m *Mirror) Reconcile(ctx context.Context) error {
	files, err := m.dir.List()
	if err != nil {
		return err
	}
	existing, _, err := m.sink.ListNotes(ctx, m.owner, 0, 0, "", "created_at")
	if err != nil {
		return fmt.Errorf("vault: list notes: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, n := range existing {
		known[n.ID] = struct{}{}
	}

	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		id := NoteID(f.Path)
		disk[id] = struct{}{}
		kind := "updated"
		if _, ok := known[id]; !ok {
			kind = "created"
		}
		if err := m.upsert(ctx, f.Path, kind); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("vault: sync failed", slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}

	for id := range known {
		if _, ok := disk[id]; ok || !fromVault(id) {
			continue
		}
		if err := m.sink.DeleteNote(ctx, m.owner, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			m.logger.Warn("vault: delete failed", slog.String("note", id), slog.String("error", err.Error()))
			continue
		}
		m.logger.Debug("vault: removed stale", slog.String("note", id))
		m.notify("deleted", id)
	}
	return nil
}

// upsert reads rel and stores it. kind is reported to the callback.
func (m *Mirror) upsert(ctx context.Context, rel, kind string) error {
	data, err := m.dir.Read(rel)
	if err != nil {
		return err
	}
	if _, err := m.sink.UpsertNote(ctx, m.owner, NoteID(rel), string(data)); err != nil {
		return err
	}
	m.logger.Debug("vault: synced", slog.String("path", rel), slog.String("op", kind))
	m.notify(kind, rel)
	return nil
}

// remove deletes the note of rel. A note that is already gone is not an error.
func (m *Mirror) remove(ctx context.Context, rel string) error {
	err := m.sink.DeleteNote(ctx, m.owner, NoteID(rel))
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err == nil {
		m.logger.Debug("vault: deleted", slog.String("path", rel))
		m.notify("deleted", rel)
	}
	return nil
}

func (m *Mirror) notify(kind, path string) {
	if m.cb != nil {
		m.cb(kind, path)
	}
}
