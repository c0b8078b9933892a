package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notegraph/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// defaultOwner is used for requests without an X-Owner-ID header.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler, defaultOwner string) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))
	r.Use(OwnerMiddleware(defaultOwner))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Route("/notes/{id}", func(r chi.Router) {
		r.Get("/", h.GetNote)
		r.Put("/", h.UpdateNote)
		r.Delete("/", h.DeleteNote)
		r.Get("/backlinks", h.Backlinks)

		// Suggestion lifecycle.
		r.Get("/suggestions", h.GetSuggestions)
		r.Post("/suggestions/{targetID}/accept", h.AcceptSuggestion)
		r.Post("/suggestions/{targetID}/reject", h.RejectSuggestion)
	})

	r.Delete("/operations/{opID}", h.CancelOperation)

	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
