package noteservice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notegraph/internal/apperr"
	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/noteservice"
	"github.com/starford/notegraph/internal/ops"
	"github.com/starford/notegraph/internal/similarity"
	"github.com/starford/notegraph/internal/sse"
	"github.com/starford/notegraph/internal/store"
	"github.com/starford/notegraph/internal/suggest"
	"github.com/starford/notegraph/internal/testutil"
)

const owner = "u1"

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(e sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func (r *recorder) PublishNoteEvent(kind, _, noteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+noteID)
}

func (r *recorder) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == name {
			return true
		}
	}
	return false
}

func TestCreateNoteSyncsGraph(t *testing.T) {
	rec := &recorder{}
	svc := testutil.TestService(t, nil, rec)
	ctx := context.Background()

	if _, err := svc.CreateNote(ctx, owner, "target", "# Target\nbody"); err != nil {
		t.Fatal(err)
	}
	src, err := svc.CreateNote(ctx, owner, "source", "Points at [[Target]].")
	if err != nil {
		t.Fatal(err)
	}
	if len(src.References) != 1 || src.References[0] != "target" {
		t.Errorf("references = %v", src.References)
	}

	bl, err := svc.Backlinks(ctx, owner, "target")
	if err != nil {
		t.Fatal(err)
	}
	if len(bl) != 1 || bl[0].SourceNoteID != "source" || bl[0].Context != "Points at [[Target]]." {
		t.Errorf("backlinks = %+v", bl)
	}
	if !rec.has(sse.KindSaved+":source") || !rec.has(sse.TypeSuggestionsUpdated) {
		t.Errorf("events = %v", rec.events)
	}
}

func TestUpdateNoteIfMatch(t *testing.T) {
	svc := testutil.TestService(t, nil, nil)
	ctx := context.Background()

	created, err := svc.CreateNote(ctx, owner, "n", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateNote(ctx, owner, "n", "v2", "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}
	updated, err := svc.UpdateNote(ctx, owner, "n", "v2", created.Checksum)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Checksum == created.Checksum {
		t.Error("checksum did not change")
	}
}

func TestUpsertNote(t *testing.T) {
	svc := testutil.TestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.UpsertNote(ctx, owner, "n", "hello"); err != nil {
		t.Fatal(err)
	}
	first, err := svc.GetNote(ctx, owner, "n")
	if err != nil {
		t.Fatal(err)
	}
	same, err := svc.UpsertNote(ctx, owner, "n", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !same.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("unchanged upsert rewrote the note")
	}
	changed, err := svc.UpsertNote(ctx, owner, "n", "hello again")
	if err != nil {
		t.Fatal(err)
	}
	if changed.Content != "hello again" {
		t.Errorf("content = %q", changed.Content)
	}
}

func TestCreateNoteRejectsNameBasedID(t *testing.T) {
	svc := testutil.TestService(t, nil, nil)
	ctx := context.Background()
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("topics/a.md")).String()

	if _, err := svc.CreateNote(ctx, owner, id, "hello"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("create with name-based id: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.CreateNote(ctx, owner, uuid.NewString(), "hello"); err != nil {
		t.Fatalf("create with random uuid: %v", err)
	}
	// The vault mirror stores its notes through UpsertNote.
	if _, err := svc.UpsertNote(ctx, owner, id, "hello"); err != nil {
		t.Fatalf("upsert with name-based id: %v", err)
	}
}

func TestDeleteNoteCascades(t *testing.T) {
	rec := &recorder{}
	svc := testutil.TestService(t, nil, rec)
	ctx := context.Background()

	if _, err := svc.CreateNote(ctx, owner, "target", "# Target"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateNote(ctx, owner, "source", "See [[Target]]."); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteNote(ctx, owner, "source"); err != nil {
		t.Fatal(err)
	}
	bl, err := svc.Backlinks(ctx, owner, "target")
	if err != nil {
		t.Fatal(err)
	}
	if len(bl) != 0 {
		t.Errorf("backlinks after delete = %+v", bl)
	}
	if !rec.has(sse.KindDeleted + ":source") {
		t.Errorf("events = %v", rec.events)
	}
	if err := svc.DeleteNote(ctx, owner, "source"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestGraph(t *testing.T) {
	svc := testutil.TestService(t, testutil.TestDB(t), nil)
	ctx := context.Background()

	if _, err := svc.CreateNote(ctx, owner, "leaf", "# Leaf"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateNote(ctx, owner, "root", "# Root\nHas [[Leaf]]."); err != nil {
		t.Fatal(err)
	}
	nodes, links, err := svc.Graph(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 || len(links) != 1 {
		t.Fatalf("graph = %v / %v", nodes, links)
	}
	if links[0] != (models.Link{Source: "root", Target: "leaf"}) {
		t.Errorf("link = %+v", links[0])
	}
}

// blockingScorer holds every Score call until its context ends.
type blockingScorer struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingScorer) Name() string { return "blocking" }

func (b *blockingScorer) Score(ctx context.Context, _, _ models.Note) (float64, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestCancelOperation(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	for _, n := range []models.Note{{ID: "one", Content: "x"}, {ID: "two", Content: "y"}} {
		n.OwnerID = owner
		if _, err := st.CreateNote(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	scorer := &blockingScorer{started: make(chan struct{})}
	manager := suggest.NewManager(st, scorer)
	svc := noteservice.NewService(st, manager, ops.NewRegistry(time.Minute, time.Minute), nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.GetSuggestions(ctx, owner, "one", "op-1")
		errCh <- err
	}()

	select {
	case <-scorer.started:
	case <-time.After(time.Second):
		t.Fatal("scoring never started")
	}
	if err := svc.CancelOperation("op-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, apperr.ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("operation did not stop")
	}
	if err := svc.CancelOperation("op-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cancel finished op err = %v", err)
	}
}

var _ similarity.Scorer = (*blockingScorer)(nil)
