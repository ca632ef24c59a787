// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nholm/ballast/internal/log"
)

// systemResponse summarises the host the daemon runs on.
type systemResponse struct {
	Service    string  `json:"service"`
	Version    string  `json:"version"`
	Uptime     string  `json:"uptime"`
	Hostname   string  `json:"hostname,omitempty"`
	OS         string  `json:"os"`
	Platform   string  `json:"platform,omitempty"`
	Goroutines int     `json:"goroutines"`
	NumCPU     int     `json:"numCpu"`
	CPUPercent float64 `json:"cpuPercent,omitempty"`
	MemTotal   uint64  `json:"memTotalBytes,omitempty"`
	MemUsed    uint64  `json:"memUsedBytes,omitempty"`
	MemPercent float64 `json:"memPercent,omitempty"`
}

// handleSystem reports host and process stats. Probe failures are
// logged and leave fields empty instead of failing the request; this
// endpoint is for operators, not orchestrators.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.WithComponentFromContext(ctx, "api")

	resp := systemResponse{
		Service:    s.cfg.Service,
		Version:    s.deps.Version,
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		OS:         runtime.GOOS,
		Goroutines: runtime.NumGoroutine(),
		NumCPU:     runtime.NumCPU(),
	}

	if name, err := hostname(); err == nil {
		resp.Hostname = name
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		resp.Platform = info.Platform + " " + info.PlatformVersion
	} else {
		logger.Debug().Err(err).Str("event", "system.host_probe_failed").Msg("host probe failed")
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	} else if err != nil {
		logger.Debug().Err(err).Str("event", "system.cpu_probe_failed").Msg("cpu probe failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemTotal = vm.Total
		resp.MemUsed = vm.Used
		resp.MemPercent = vm.UsedPercent
	} else {
		logger.Debug().Err(err).Str("event", "system.mem_probe_failed").Msg("memory probe failed")
	}

	writeJSON(w, http.StatusOK, resp)
}
