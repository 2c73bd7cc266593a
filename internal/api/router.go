package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/refpilot/refpilot/internal/api/middleware"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SyncSelectionHandler http.HandlerFunc
	ListSyncedHandler    http.HandlerFunc
	ListTemplatesHandler http.HandlerFunc

	TriggerScrapeHandler   http.HandlerFunc
	ScrapeLogHandler       http.HandlerFunc
	ExportHandler          http.HandlerFunc
	ResolveRedirectHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", deps.HealthHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// Client-facing: the external desktop client reconciles its
		// program selections through these.
		r.Post("/api/v1/programs/sync", deps.SyncSelectionHandler)
		r.Get("/api/v1/programs/sync", deps.ListSyncedHandler)
		r.Get("/api/v1/templates", deps.ListTemplatesHandler)

		// Operator routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/scrape", deps.TriggerScrapeHandler)
			r.Get("/api/v1/admin/scrape", deps.ScrapeLogHandler)
			r.Post("/api/v1/admin/export", deps.ExportHandler)
			r.Post("/api/v1/admin/resolve-redirect", deps.ResolveRedirectHandler)
		})
	})

	return r
}
