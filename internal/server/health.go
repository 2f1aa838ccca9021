package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Database      string  `json:"database"`
	Goroutines    int     `json:"goroutines"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	CPUPct        float64 `json:"cpu_pct"`
	DiskUsedPct   float64 `json:"disk_used_pct"`
}

// handleHealth reports process and host health. Database failure makes the
// whole check degraded; host metric failures are tolerated and reported as
// zero so a broken /proc never takes the endpoint down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Database:      "ok",
		Goroutines:    runtime.NumGoroutine(),
	}

	httpStatus := http.StatusOK
	if err := s.db.HealthCheck(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp.CPUPct = percents[0]
	}
	if du, err := disk.Usage(s.cfg.DataDir); err == nil {
		resp.DiskUsedPct = du.UsedPercent
	}

	s.writeJSON(w, httpStatus, resp)
}
