package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes
func (h *TradingHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/trading", func(r chi.Router) {
		r.Post("/validate", h.HandleValidateTransfers)        // Security gate dry-run
		r.Get("/{user}/transactions", h.HandleGetTransactions) // Executed transaction log
	})
}
