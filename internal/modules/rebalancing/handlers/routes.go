package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the rebalancing and monitor routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rebalancing/{user}", func(r chi.Router) {
		r.Get("/config", h.HandleGetConfig)
		r.Put("/config", h.HandleUpdateConfig)
		r.Post("/config/reset", h.HandleResetConfig)
		r.Post("/execute", h.HandleExecute)
		r.Get("/preview", h.HandlePreview)
		r.Get("/executions", h.HandleGetExecutions)
	})

	r.Route("/monitor", func(r chi.Router) {
		r.Get("/status", h.HandleMonitorStatus)
		r.Post("/run", h.HandleRunCycle)
	})
}
