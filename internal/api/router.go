package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.metricsMiddleware)

	// Legacy routes kept for existing mobile clients.
	r.Get("/ws/{device_id}", s.handleStream("device_id"))
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/device", s.handleLegacyRegister)
		r.With(s.rateLimitMiddleware).Post("/device/{device_id}/toggle", s.handleLegacyToggle)
		r.Get("/devices", s.handleLegacyListDevices)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics.Handler())
		}

		r.Route("/devices", func(r chi.Router) {
			// Observers are not authenticated.
			r.Get("/{id}/stream", s.handleStream("id"))

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)
				r.Get("/{id}", s.handleGetDevice)
				r.With(s.rateLimitMiddleware).Post("/{id}/commands", s.handleCommand)
				r.Get("/{id}/provisioning", s.handleProvisioning)
			})
		})
	})

	return r
}
