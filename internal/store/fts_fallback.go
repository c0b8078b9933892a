//go:build !sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/parser"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the notes table.
	return nil
}

func ftsUpsert(_ context.Context, _ *sql.Tx, _ *models.Note) error { return nil }

func ftsDelete(_ context.Context, _ *sql.Tx, _ string) {}

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (s *SQLite) Search(ctx context.Context, ownerID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, content
		FROM notes
		WHERE owner_id = ? AND (content LIKE ? OR tags LIKE ?)
		ORDER BY updated_at DESC
		LIMIT ?
	`, ownerID, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		p := parser.Parse(content)
		out = append(out, SearchResult{ID: id, Title: p.Title, Snippet: snippet(p.Body, 200)})
	}
	return out, rows.Err()
}
