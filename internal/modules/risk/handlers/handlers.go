// Package handlers provides HTTP handlers for risk assessment and alerts.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RiskAssessor produces an on-demand risk report for a user
type RiskAssessor interface {
	AssessRisk(ctx context.Context, user domain.UserID) (*risk.Report, error)
}

// AlertService exposes alert history and acknowledgement
type AlertService interface {
	Alerts(ctx context.Context, user domain.UserID, includeAcknowledged bool) ([]risk.Alert, error)
	Acknowledge(ctx context.Context, id string) (*risk.Alert, error)
}

// Handler handles risk HTTP requests
type Handler struct {
	assessor RiskAssessor
	alerts   AlertService
	log      zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(assessor RiskAssessor, alerts AlertService, log zerolog.Logger) *Handler {
	return &Handler{
		assessor: assessor,
		alerts:   alerts,
		log:      log.With().Str("handler", "risk").Logger(),
	}
}

// HandleGetAssessment handles GET /api/risk/{user}/assessment
func (h *Handler) HandleGetAssessment(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	report, err := h.assessor.AssessRisk(r.Context(), user)
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to assess risk")
		h.writeError(w, http.StatusInternalServerError, "Failed to assess risk")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(report))
}

// HandleGetAlerts handles GET /api/risk/{user}/alerts
func (h *Handler) HandleGetAlerts(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))
	includeAcknowledged, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	alerts, err := h.alerts.Alerts(r.Context(), user, includeAcknowledged)
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to list alerts")
		h.writeError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	}))
}

// HandleAcknowledgeAlert handles POST /api/risk/alerts/{id}/acknowledge
func (h *Handler) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := h.alerts.Acknowledge(r.Context(), id)
	if errors.Is(err, risk.ErrAlertNotFound) {
		h.writeError(w, http.StatusNotFound, "Alert not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("alert_id", id).Msg("Failed to acknowledge alert")
		h.writeError(w, http.StatusInternalServerError, "Failed to acknowledge alert")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(alert))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
