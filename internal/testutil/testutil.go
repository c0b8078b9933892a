// Package testutil provides shared test helpers for setting up stores and services.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/starford/notegraph/internal/noteservice"
	"github.com/starford/notegraph/internal/ops"
	"github.com/starford/notegraph/internal/similarity"
	"github.com/starford/notegraph/internal/store"
	"github.com/starford/notegraph/internal/suggest"
)

// TestDB creates a temporary SQLite store that is automatically cleaned up.
func TestDB(t *testing.T) *store.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "notegraph-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.OpenSQLite(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestService wires a service over st with lexical scoring, an in-memory
// decision ledger and no event publisher. A nil st uses an in-memory store.
func TestService(t *testing.T, st store.NoteStore, events noteservice.Publisher) *noteservice.Service {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	manager := suggest.NewManager(st, similarity.Lexical{}, suggest.WithThreshold(0.3))
	t.Cleanup(func() { manager.Close() })
	return noteservice.NewService(st, manager, ops.NewRegistry(time.Minute, 2*time.Minute), events, nil)
}
