package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/models"
)

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "notegraph-test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// backends runs fn against every NoteStore implementation.
func backends(t *testing.T, fn func(t *testing.T, s NoteStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, testSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func TestSchemaCreation(t *testing.T) {
	db := testSQLite(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&count); err != nil {
		t.Fatalf("notes table missing: %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		ctx := context.Background()
		created, err := s.CreateNote(ctx, models.Note{OwnerID: "u1", Content: "# Hello\nbody", Tags: []string{"go"}})
		if err != nil {
			t.Fatalf("CreateNote: %v", err)
		}
		if created.ID == "" {
			t.Fatal("expected generated id")
		}
		got, err := s.GetNote(ctx, created.ID, "u1")
		if err != nil {
			t.Fatalf("GetNote: %v", err)
		}
		if got.Content != "# Hello\nbody" {
			t.Errorf("content = %q", got.Content)
		}
		if len(got.Tags) != 1 || got.Tags[0] != "go" {
			t.Errorf("tags = %v, want [go]", got.Tags)
		}
		if got.References == nil || got.Backlinks == nil || got.SuggestedLinks == nil {
			t.Error("expected non-nil edge slices")
		}
	})
}

func TestGetNote_OwnerScoped(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		ctx := context.Background()
		n, _ := s.CreateNote(ctx, models.Note{ID: "n1", OwnerID: "u1", Content: "x"})
		if _, err := s.GetNote(ctx, n.ID, "u2"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestCreateNote_Duplicate(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		ctx := context.Background()
		if _, err := s.CreateNote(ctx, models.Note{ID: "dup", OwnerID: "u1"}); err != nil {
			t.Fatalf("CreateNote: %v", err)
		}
		if _, err := s.CreateNote(ctx, models.Note{ID: "dup", OwnerID: "u1"}); !errors.Is(err, apperr.ErrAlreadyExists) {
			t.Errorf("err = %v, want ErrAlreadyExists", err)
		}
	})
}

func TestUpdateNote_Partial(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		ctx := context.Background()
		n, _ := s.CreateNote(ctx, models.Note{ID: "a", OwnerID: "u1", Content: "old"})

		refs := []string{"b"}
		backlinks := []models.BacklinkEdge{{SourceNoteID: "c", Context: "see it.", Timestamp: time.Now().UTC()}}
		got, err := s.UpdateNote(ctx, n.ID, "u1", NoteUpdate{References: &refs, Backlinks: &backlinks})
		if err != nil {
			t.Fatalf("UpdateNote: %v", err)
		}
		if got.Content != "old" {
			t.Errorf("content = %q, want unchanged", got.Content)
		}

		reloaded, _ := s.GetNote(ctx, "a", "u1")
		if len(reloaded.References) != 1 || reloaded.References[0] != "b" {
			t.Errorf("references = %v, want [b]", reloaded.References)
		}
		if len(reloaded.Backlinks) != 1 || reloaded.Backlinks[0].SourceNoteID != "c" {
			t.Errorf("backlinks = %+v", reloaded.Backlinks)
		}
	})
}

func TestUpdateNote_Missing(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		content := "x"
		_, err := s.UpdateNote(context.Background(), "nope", "u1", NoteUpdate{Content: &content})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestDeleteNote(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		ctx := context.Background()
		_, _ = s.CreateNote(ctx, models.Note{ID: "a", OwnerID: "u1"})
		if err := s.DeleteNote(ctx, "a", "u1"); err != nil {
			t.Fatalf("DeleteNote: %v", err)
		}
		if err := s.DeleteNote(ctx, "a", "u1"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("second delete err = %v, want ErrNotFound", err)
		}
	})
}

func TestGetAllNotesAndOwners(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		ctx := context.Background()
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		_, _ = s.CreateNote(ctx, models.Note{ID: "b", OwnerID: "u1", CreatedAt: base.Add(time.Minute)})
		_, _ = s.CreateNote(ctx, models.Note{ID: "a", OwnerID: "u1", CreatedAt: base})
		_, _ = s.CreateNote(ctx, models.Note{ID: "z", OwnerID: "u2", CreatedAt: base})

		all, err := s.GetAllNotes(ctx, "u1")
		if err != nil {
			t.Fatalf("GetAllNotes: %v", err)
		}
		if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
			t.Errorf("notes = %v, want [a b]", ids(all))
		}

		owners, err := s.Owners(ctx)
		if err != nil {
			t.Fatalf("Owners: %v", err)
		}
		if len(owners) != 2 || owners[0] != "u1" || owners[1] != "u2" {
			t.Errorf("owners = %v, want [u1 u2]", owners)
		}
	})
}

func TestSearch(t *testing.T) {
	backends(t, func(t *testing.T, s NoteStore) {
		ctx := context.Background()
		_, _ = s.CreateNote(ctx, models.Note{ID: "a", OwnerID: "u1", Content: "# Graphs\nknowledge graphs are useful"})
		_, _ = s.CreateNote(ctx, models.Note{ID: "b", OwnerID: "u1", Content: "# Cooking\npasta recipes"})
		_, _ = s.CreateNote(ctx, models.Note{ID: "c", OwnerID: "u2", Content: "# Other\nknowledge elsewhere"})

		res, err := s.Search(ctx, "u1", "knowledge", 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(res) != 1 || res[0].ID != "a" {
			t.Fatalf("results = %+v, want only a", res)
		}
		if res[0].Title != "Graphs" {
			t.Errorf("title = %q, want %q", res[0].Title, "Graphs")
		}
	})
}

func TestMemory_CopiesOnReturn(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.CreateNote(ctx, models.Note{ID: "a", OwnerID: "u1", References: []string{"b"}})

	got, _ := m.GetNote(ctx, "a", "u1")
	got.References[0] = "mutated"

	again, _ := m.GetNote(ctx, "a", "u1")
	if again.References[0] != "b" {
		t.Errorf("store was mutated through returned note: %v", again.References)
	}
}

func ids(notes []models.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.ID
	}
	return out
}
