package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/optifolio/internal/database"
)

var processStart = time.Now()

// SystemHandlers serves the system status endpoint.
type SystemHandlers struct {
	log     zerolog.Logger
	dataDir string
	dbs     []*database.DB
}

// NewSystemHandlers creates system handlers over the open databases.
func NewSystemHandlers(log zerolog.Logger, dataDir string, dbs ...*database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:     log.With().Str("component", "system_handlers").Logger(),
		dataDir: dataDir,
		dbs:     dbs,
	}
}

// DatabaseStatus reports one database file's health.
type DatabaseStatus struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	SizeMB    float64 `json:"size_mb"`
	Reachable bool    `json:"reachable"`
}

// SystemStatusResponse is the system status payload.
type SystemStatusResponse struct {
	Status        string           `json:"status"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	CPUPercent    float64          `json:"cpu_percent"`
	RAMPercent    float64          `json:"ram_percent"`
	Goroutines    int              `json:"goroutines"`
	Databases     []DatabaseStatus `json:"databases"`
	Timestamp     string           `json:"timestamp"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, ramPct := h.systemStats()

	status := "ok"
	databases := make([]DatabaseStatus, 0, len(h.dbs))
	for _, db := range h.dbs {
		ds := DatabaseStatus{
			Name:   db.Name(),
			Path:   db.Path(),
			SizeMB: fileSizeMB(db.Path()),
		}
		ds.Reachable = db.Conn().Ping() == nil
		if !ds.Reachable {
			status = "degraded"
		}
		databases = append(databases, ds)
	}

	response := SystemStatusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(processStart).Seconds()),
		CPUPercent:    cpuPct,
		RAMPercent:    ramPct,
		Goroutines:    runtime.NumGoroutine(),
		Databases:     databases,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// systemStats samples CPU and RAM usage. The CPU sample uses a short
// interval so the endpoint stays responsive.
func (h *SystemHandlers) systemStats() (float64, float64) {
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

func fileSizeMB(path string) float64 {
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return 0
	}
	return float64(info.Size()) / 1024 / 1024
}
