// Package sse implements a Server-Sent Events broker for live note and
// suggestion updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Note event kinds accepted by PublishNoteEvent.
const (
	KindSaved   = "saved"
	KindDeleted = "deleted"
)

// Event types sent to clients.
const (
	TypeNoteSaved          = "note.saved"
	TypeNoteDeleted        = "note.deleted"
	TypeGraphUpdated       = "graph.updated"
	TypeSuggestionsUpdated = "suggestions.updated"
	TypeSuggestionAccepted = "suggestion.accepted"
	TypeSuggestionRejected = "suggestion.rejected"
)

// Event represents an SSE event to broadcast. Owner, when set, limits
// delivery to that owner's subscribers; data maps carrying "owner_id" are
// scoped the same way.
type Event struct {
	Type  string `json:"type"`
	Owner string `json:"-"`
	Data  any    `json:"data"`
}

type noteEventReq struct {
	kind  string
	owner string
	id    string
}

type subscription struct {
	ch    chan []byte
	owner string
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal loop owns the client set and the per-owner graph
// throttle timestamps; public methods talk to it over channels.
type Broker struct {
	graphMin time.Duration
	ownerOf  func(*http.Request) string

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteEventCh   chan noteEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker with the given graph.updated throttle.
// ownerOf resolves the subscribing owner of a request; nil subscribes every
// client to all owners.
func NewBroker(graphThrottle time.Duration, ownerOf func(*http.Request) string) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		ownerOf:       ownerOf,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteEventCh:   make(chan noteEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastGraph := make(map[string]time.Time)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		owner := eventOwner(event)
		for ch, sub := range clients {
			if owner != "" && sub != "" && owner != sub {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.owner

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.noteEventCh:
			data := map[string]string{"id": req.id, "owner_id": req.owner}
			switch req.kind {
			case KindSaved:
				broadcast(Event{Type: TypeNoteSaved, Owner: req.owner, Data: data})
			case KindDeleted:
				broadcast(Event{Type: TypeNoteDeleted, Owner: req.owner, Data: data})
			}

			now := time.Now()
			if now.Sub(lastGraph[req.owner]) >= b.graphMin {
				lastGraph[req.owner] = now
				broadcast(Event{Type: TypeGraphUpdated, Owner: req.owner, Data: map[string]string{"owner_id": req.owner}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func eventOwner(e Event) string {
	if e.Owner != "" {
		return e.Owner
	}
	switch d := e.Data.(type) {
	case map[string]string:
		return d["owner_id"]
	case map[string]any:
		s, _ := d["owner_id"].(string)
		return s
	}
	return ""
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client for owner ("" receives every owner's events) and
// returns its channel.
func (b *Broker) Subscribe(owner string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, owner: owner}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all matching clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent publishes a note change and a per-owner throttled
// graph.updated event.
func (b *Broker) PublishNoteEvent(kind, ownerID, noteID string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- noteEventReq{kind: kind, owner: ownerID, id: noteID}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	owner := ""
	if b.ownerOf != nil {
		owner = b.ownerOf(r)
	}
	ch := b.Subscribe(owner)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
