package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/models"
)

const noteColumns = `id, owner_id, content, tags, refs, backlinks, suggested_links, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (*models.Note, error) {
	var (
		n                                    models.Note
		tags, refs, backlinks, suggestedJSON string
	)
	if err := r.Scan(&n.ID, &n.OwnerID, &n.Content, &tags, &refs, &backlinks, &suggestedJSON, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("store: decode tags for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(refs), &n.References); err != nil {
		return nil, fmt.Errorf("store: decode references for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(backlinks), &n.Backlinks); err != nil {
		return nil, fmt.Errorf("store: decode backlinks for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(suggestedJSON), &n.SuggestedLinks); err != nil {
		return nil, fmt.Errorf("store: decode suggestions for %s: %w", n.ID, err)
	}
	n.Tags = nonNil(n.Tags)
	n.References = nonNil(n.References)
	n.Backlinks = nonNil(n.Backlinks)
	n.SuggestedLinks = nonNil(n.SuggestedLinks)
	return &n, nil
}

type encodedNote struct {
	tags, refs, backlinks, suggested string
}

func encodeNote(n *models.Note) (encodedNote, error) {
	var (
		out encodedNote
		b   []byte
		err error
	)
	if b, err = json.Marshal(nonNil(n.Tags)); err != nil {
		return out, err
	}
	out.tags = string(b)
	if b, err = json.Marshal(nonNil(n.References)); err != nil {
		return out, err
	}
	out.refs = string(b)
	if b, err = json.Marshal(nonNil(n.Backlinks)); err != nil {
		return out, err
	}
	out.backlinks = string(b)
	if b, err = json.Marshal(nonNil(n.SuggestedLinks)); err != nil {
		return out, err
	}
	out.suggested = string(b)
	return out, nil
}

// GetAllNotes returns every note owned by ownerID ordered by creation time.
func (s *SQLite) GetAllNotes(ctx context.Context, ownerID string) ([]models.Note, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: all notes: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// GetNote returns a single note.
func (s *SQLite) GetNote(ctx context.Context, id, ownerID string) (*models.Note, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ? AND owner_id = ?`, id, ownerID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get note: %w", err)
	}
	return n, nil
}

// CreateNote inserts a new note. An empty ID is replaced with a random UUID.
func (s *SQLite) CreateNote(ctx context.Context, note models.Note) (*models.Note, error) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	enc, err := encodeNote(&note)
	if err != nil {
		return nil, fmt.Errorf("store: encode note: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM notes WHERE id = ?`, note.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("store: check note: %w", err)
	}
	if exists > 0 {
		return nil, apperr.ErrAlreadyExists
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, note.ID, note.OwnerID, note.Content, enc.tags, enc.refs, enc.backlinks, enc.suggested, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert note: %w", err)
	}
	if err := ftsUpsert(ctx, tx, &note); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	note.Tags = nonNil(note.Tags)
	note.References = nonNil(note.References)
	note.Backlinks = nonNil(note.Backlinks)
	note.SuggestedLinks = nonNil(note.SuggestedLinks)
	return &note, nil
}

// UpdateNote applies a partial update inside a transaction and returns the
// persisted note.
func (s *SQLite) UpdateNote(ctx context.Context, id, ownerID string, upd NoteUpdate) (*models.Note, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ? AND owner_id = ?`, id, ownerID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load for update: %w", err)
	}

	applyUpdate(n, upd)
	n.UpdatedAt = time.Now().UTC()

	enc, err := encodeNote(n)
	if err != nil {
		return nil, fmt.Errorf("store: encode note: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE notes SET
			content         = ?,
			tags            = ?,
			refs            = ?,
			backlinks       = ?,
			suggested_links = ?,
			updated_at      = ?
		WHERE id = ? AND owner_id = ?
	`, n.Content, enc.tags, enc.refs, enc.backlinks, enc.suggested, n.UpdatedAt, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: update note: %w", err)
	}
	if upd.Content != nil || upd.Tags != nil {
		if err := ftsUpsert(ctx, tx, n); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return n, nil
}

// DeleteNote removes a note and its FTS entry.
func (s *SQLite) DeleteNote(ctx context.Context, id, ownerID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("store: delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	ftsDelete(ctx, tx, id)
	return tx.Commit()
}

// Owners returns every distinct owner id.
func (s *SQLite) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT DISTINCT owner_id FROM notes ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("store: owners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
