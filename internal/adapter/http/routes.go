package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/TraceLab/internal/config"
)

// Version is reported by GET /api/v1/.
const Version = "0.1.0"

// Guards are optional middleware for the two route families.
type Guards struct {
	Ingest []func(http.Handler) http.Handler
	Read   []func(http.Handler) http.Handler
}

// MountRoutes registers the ingestion and read routes on the given chi router.
// Export runs under its own timeout and is exempt from the request timeout.
func MountRoutes(r chi.Router, h *Handlers, srv config.Server, g Guards) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(g.Ingest...)
		if srv.RequestTimeout > 0 {
			r.Use(chimw.Timeout(srv.RequestTimeout))
		}
		r.Post("/store/{stream}", h.StoreTelemetry)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(g.Read...)
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		r.Get("/experiments/{id}/export", h.ExportExperiment)

		r.Group(func(r chi.Router) {
			if srv.RequestTimeout > 0 {
				r.Use(chimw.Timeout(srv.RequestTimeout))
			}
			r.Get("/experiments/{id}/participants/{user}/counts", h.ParticipantCounts)
			r.Get("/experiments/{id}/participants/{user}/code", h.LatestCode)
		})
	})
}
