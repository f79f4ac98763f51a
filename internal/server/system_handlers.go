package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/aristath/vaultkeeper/internal/di"
	"github.com/aristath/vaultkeeper/internal/modules/rebalancing"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const defaultEventLimit = 100

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	container   *di.Container
	startupTime time.Time
	statsFunc   func() (float64, float64)
	log         zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(container *di.Container, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		container:   container,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
	}
	h.statsFunc = h.getSystemStats
	return h
}

// ProtocolHealth is the adapter health of one protocol
type ProtocolHealth struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// SystemHealthResponse is the body of GET /api/system/health
type SystemHealthResponse struct {
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Database      string                    `json:"database"`
	Protocols     []ProtocolHealth          `json:"protocols"`
	Monitor       rebalancing.MonitorStatus `json:"monitor"`
	CPUPercent    float64                   `json:"cpu_percent"`
	MemoryPercent float64                   `json:"memory_percent"`
	Goroutines    int                       `json:"goroutines"`
}

// HandleSystemHealth handles GET /api/system/health
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := SystemHealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		Database:      "memory",
		Monitor:       h.container.Monitor.Status(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if db := h.container.DB; db != nil {
		response.Database = "ok"
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Database health check failed")
			response.Database = "unavailable"
			response.Status = "degraded"
		}
	}

	for _, id := range h.container.Registry.IDs() {
		protocol, _ := h.container.Registry.Get(id)
		healthy := protocol.Adapter.IsHealthy(ctx)
		if !healthy {
			response.Status = "degraded"
		}
		response.Protocols = append(response.Protocols, ProtocolHealth{
			ID:      string(id),
			Name:    protocol.Info.Name,
			Healthy: healthy,
		})
	}

	response.CPUPercent, response.MemoryPercent = h.statsFunc()

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

// HandleRecentEvents handles GET /api/events?limit=N
func (h *SystemHandlers) HandleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	recent := h.container.EventManager.Recent(limit)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": recent,
		"count":  len(recent),
	})
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short interval (100ms) so the health call does not block for long
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
