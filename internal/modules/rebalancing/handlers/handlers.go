// Package handlers provides HTTP handlers for rebalancing configuration,
// manual execution and the monitor.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/rebalancing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// defaultExecutionLimit caps the history returned when no limit is given
const defaultExecutionLimit = 50

// RebalancingService is the engine facade used by the handlers
type RebalancingService interface {
	GetConfig(ctx context.Context, user domain.UserID) (*rebalancing.Config, error)
	UpdateConfig(ctx context.Context, user domain.UserID, update rebalancing.ConfigUpdate) (*rebalancing.Config, error)
	ResetConfig(ctx context.Context, user domain.UserID) (*rebalancing.Config, error)
	ExecuteNow(ctx context.Context, user domain.UserID, opts rebalancing.ExecuteOptions) (*rebalancing.Outcome, error)
	Preview(ctx context.Context, user domain.UserID) (*rebalancing.Preview, error)
	Executions(ctx context.Context, user domain.UserID, limit int) ([]rebalancing.Execution, error)
}

// MonitorService exposes the background monitor
type MonitorService interface {
	Status() rebalancing.MonitorStatus
	RunCycle(ctx context.Context) (*rebalancing.CycleReport, error)
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	service RebalancingService
	monitor MonitorService
	log     zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(service RebalancingService, monitor MonitorService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		monitor: monitor,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

// HandleGetConfig handles GET /api/rebalancing/{user}/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	cfg, err := h.service.GetConfig(r.Context(), user)
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to get config")
		h.writeError(w, http.StatusInternalServerError, "Failed to get config")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(cfg))
}

// HandleUpdateConfig handles PUT /api/rebalancing/{user}/config
func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	var update rebalancing.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg, err := h.service.UpdateConfig(r.Context(), user, update)
	var cfgErrs rebalancing.ConfigurationErrors
	if errors.As(err, &cfgErrs) {
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Invalid configuration",
			"fields": cfgErrs,
		})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to update config")
		h.writeError(w, http.StatusInternalServerError, "Failed to update config")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(cfg))
}

// HandleResetConfig handles POST /api/rebalancing/{user}/config/reset
func (h *Handler) HandleResetConfig(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	cfg, err := h.service.ResetConfig(r.Context(), user)
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to reset config")
		h.writeError(w, http.StatusInternalServerError, "Failed to reset config")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(cfg))
}

// HandleExecute handles POST /api/rebalancing/{user}/execute
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	var opts rebalancing.ExecuteOptions
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	outcome, err := h.service.ExecuteNow(r.Context(), user, opts)
	var dataErr *rebalancing.DataUnavailableError
	switch {
	case errors.Is(err, rebalancing.ErrConfirmationRequired):
		h.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "Confirmation required",
			"outcome": outcome,
		})
		return
	case errors.Is(err, rebalancing.ErrCooldownActive):
		h.writeError(w, http.StatusConflict, "Rebalance cooldown active")
		return
	case errors.Is(err, rebalancing.ErrExecutionInProgress):
		h.writeError(w, http.StatusConflict, "Rebalance already in progress")
		return
	case errors.As(err, &dataErr):
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":   "Portfolio data unavailable",
			"missing": dataErr.Missing,
		})
		return
	case err != nil:
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to execute rebalance")
		h.writeError(w, http.StatusInternalServerError, "Failed to execute rebalance")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(outcome))
}

// HandlePreview handles GET /api/rebalancing/{user}/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	preview, err := h.service.Preview(r.Context(), user)
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to preview rebalance")
		h.writeError(w, http.StatusInternalServerError, "Failed to preview rebalance")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(preview))
}

// HandleGetExecutions handles GET /api/rebalancing/{user}/executions?limit=N
func (h *Handler) HandleGetExecutions(w http.ResponseWriter, r *http.Request) {
	user := domain.NormalizeUserID(chi.URLParam(r, "user"))

	limit := defaultExecutionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	executions, err := h.service.Executions(r.Context(), user, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user", string(user)).Msg("Failed to list executions")
		h.writeError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	}))
}

// HandleMonitorStatus handles GET /api/monitor/status
func (h *Handler) HandleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, envelope(h.monitor.Status()))
}

// HandleRunCycle handles POST /api/monitor/run
func (h *Handler) HandleRunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.monitor.RunCycle(r.Context())
	if errors.Is(err, rebalancing.ErrCycleInProgress) {
		h.writeError(w, http.StatusConflict, "Monitor cycle already in progress")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to run monitor cycle")
		h.writeError(w, http.StatusInternalServerError, "Failed to run monitor cycle")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(report))
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
