// Package handlers provides HTTP handlers for the security gate and transaction log.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// TradingHandlers contains HTTP handlers for trading API
type TradingHandlers struct {
	gate  *trading.SecurityGate
	txLog trading.TransactionLog
	log   zerolog.Logger
}

// NewTradingHandlers creates a new trading handlers instance
func NewTradingHandlers(gate *trading.SecurityGate, txLog trading.TransactionLog, log zerolog.Logger) *TradingHandlers {
	return &TradingHandlers{
		gate:  gate,
		txLog: txLog,
		log:   log.With().Str("handler", "trading").Logger(),
	}
}

// HandleGetTransactions handles GET /api/trading/{user}/transactions
func (h *TradingHandlers) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	hours := 24
	if hoursParam := r.URL.Query().Get("hours"); hoursParam != "" {
		if parsed, err := strconv.Atoi(hoursParam); err == nil && parsed > 0 {
			hours = parsed
		}
	}

	txs, err := h.txLog.Since(r.Context(), user, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to get transaction history")
		h.writeError(w, http.StatusInternalServerError, "Failed to get transaction history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"transactions": txs,
			"count":        len(txs),
			"hours":        hours,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleValidateTransfers handles POST /api/trading/validate
// Dry-run of the security gate for a transfer set
func (h *TradingHandlers) HandleValidateTransfers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User          string            `json:"user"`
		Transfers     []domain.Transfer `json:"transfers"`
		EstimatedCost float64           `json:"estimated_cost"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.User == "" || len(req.Transfers) == 0 {
		h.writeError(w, http.StatusBadRequest, "user and transfers are required")
		return
	}
	for _, t := range req.Transfers {
		if t.Amount <= 0 || (t.Direction != domain.DirectionWithdraw && t.Direction != domain.DirectionDeposit) {
			h.writeError(w, http.StatusBadRequest, "each transfer needs a positive amount and a withdraw or deposit direction")
			return
		}
	}

	verdict := h.gate.Evaluate(r.Context(), trading.Request{
		UserID:        domain.NormalizeUserID(req.User),
		Transfers:     req.Transfers,
		EstimatedCost: req.EstimatedCost,
	})

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": verdict,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *TradingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
		},
	})
}

func (h *TradingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
