package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/othala/internal/calloutservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// vaultRoot and canvasDir locate the generated artifacts on disk.
func NewRouter(svc *calloutservice.Service, authEnabled bool, token string, sseHandler http.Handler, vaultRoot, canvasDir string) chi.Router {
	h := NewHandler(svc)
	ah := NewArtifactHandler(vaultRoot, canvasDir)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Callout extraction and lookup.
	r.Get("/callouts", h.ListCallouts)
	r.Get("/callouts/lookup", h.GetCallout)
	r.Get("/documents/*", h.ExtractDocument)
	r.Post("/scan", h.Scan)
	r.Post("/refresh", h.Refresh)

	// Search and relations.
	r.Get("/search", h.Search)
	r.Get("/backlinks", h.Backlinks)

	// Identity and graph artifacts.
	r.Post("/identifiers", h.AssignIdentifier)
	r.Post("/graphs", h.BuildGraph)
	r.Get("/canvases", ah.List)
	r.Get("/canvases/{filename}", ah.ServeFile)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
