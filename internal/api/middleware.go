// Package api implements the notegraph REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"
)

// OwnerHeader carries the owner whose collection a request addresses.
const OwnerHeader = "X-Owner-ID"

type ownerKey struct{}

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OwnerMiddleware resolves the request owner from the X-Owner-ID header,
// falling back to defaultOwner, and stores it in the request context.
func OwnerMiddleware(defaultOwner string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
			if owner == "" {
				owner = defaultOwner
			}
			if owner == "" {
				writeJSON(w, http.StatusBadRequest, errorBody("owner is required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
		})
	}
}

// OwnerFromRequest returns the owner resolved by OwnerMiddleware, or the raw
// header value when the middleware did not run.
func OwnerFromRequest(r *http.Request) string {
	if owner, ok := r.Context().Value(ownerKey{}).(string); ok {
		return owner
	}
	return strings.TrimSpace(r.Header.Get(OwnerHeader))
}
