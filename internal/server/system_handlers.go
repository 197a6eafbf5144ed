package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status      string  `json:"status"`
	Service     string  `json:"service"`
	UptimeHours float64 `json:"uptime_hours"`
	CPUPercent  float64 `json:"cpu_percent"`
	RAMPercent  float64 `json:"ram_percent"`
	Goroutines  int     `json:"goroutines"`
}

// SystemHandlers serves process and host status.
type SystemHandlers struct {
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates system handlers that report uptime since startupTime.
func NewSystemHandlers(startupTime time.Time, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		startupTime: startupTime,
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// HandleHealth reports liveness with basic host statistics.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	response := HealthResponse{
		Status:      "healthy",
		Service:     "fundsync",
		UptimeHours: time.Since(h.startupTime).Hours(),
		CPUPercent:  cpuPercent,
		RAMPercent:  ramPercent,
		Goroutines:  runtime.NumGoroutine(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode health response")
	}
}

// getSystemStats calculates CPU and RAM usage percentages.
// A short sampling interval keeps liveness probes fast.
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
