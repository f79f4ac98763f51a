package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/vaultkeeper/internal/config"
	"github.com/aristath/vaultkeeper/internal/domain"
)

const version = "1.0.0"

// HealthResponse is the liveness payload. It never reports unhealthy; adapter
// and resource checks live under /api/system/health.
type HealthResponse struct {
	Status         string              `json:"status"`
	Service        string              `json:"service"`
	Version        string              `json:"version"`
	Store          string              `json:"store"`
	Protocols      []domain.ProtocolID `json:"protocols"`
	MonitorRunning bool                `json:"monitor_running"`
	MonitorCycles  int                 `json:"monitor_cycles"`
	LastCycleAt    *time.Time          `json:"last_cycle_at,omitempty"`
}

// handleHealth reports liveness with a summary of the running engine
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Service:   "vaultkeeper",
		Version:   version,
		Store:     config.StoreMemory,
		Protocols: s.container.Registry.IDs(),
	}
	if s.container.DB != nil {
		resp.Store = config.StoreSQLite
	}
	if s.container.Monitor != nil {
		status := s.container.Monitor.Status()
		resp.MonitorRunning = status.Running
		resp.MonitorCycles = status.Cycles
		if status.LastCycle != nil {
			at := status.LastCycle.StartedAt
			resp.LastCycleAt = &at
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
