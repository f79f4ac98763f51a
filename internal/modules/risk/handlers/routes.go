package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Post("/alerts/{id}/acknowledge", h.HandleAcknowledgeAlert)

		r.Route("/{user}", func(r chi.Router) {
			r.Get("/assessment", h.HandleGetAssessment)
			r.Get("/alerts", h.HandleGetAlerts)
		})
	})
}
