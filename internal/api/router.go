package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-import/internal/importservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// media, if non-nil, accepts uploads at POST /media.
func NewRouter(svc *importservice.Service, authEnabled bool, token string, sseHandler http.Handler, media *MediaHandler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Imports.
	r.Post("/imports", h.StartImport)
	r.Get("/imports/current", h.ImportStatus)

	// Identity and items.
	r.Get("/identity/{externalID}", h.LookupIdentity)
	r.Get("/items/{id}", h.GetItem)
	r.Get("/search", h.Search)

	// Runs.
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{runID}/entries", h.RunEntries)

	// Redirects.
	r.Get("/redirects", h.ListRedirects)

	if media != nil {
		r.Post("/media", media.Upload)
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
