package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var startedAt = time.Now()

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	Database      string  `json:"database"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	ProcessRSS    uint64  `json:"process_rss_bytes,omitempty"`
	HostMemUsed   float64 `json:"host_memory_used_percent,omitempty"`
}

// Health pings the database and reports process memory. A failed ping
// answers 503 so load balancers take the instance out.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Database:      "ok",
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			resp.ProcessRSS = info.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.HostMemUsed = vm.UsedPercent
	}

	status := http.StatusOK
	if err := h.store.HealthCheck(); err != nil {
		h.logger.Warn("Database health check failed", map[string]interface{}{"error": err.Error()})
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// CMSStats returns row counts per kind and state
func (h *Handler) CMSStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ContentStats(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PurgeCache drops cached crawler pages. ?prefix= limits the purge to
// one route family.
func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusOK, map[string]int{"purged": 0})
		return
	}
	var n int
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		n = h.cache.PurgePrefix(prefix)
	} else {
		n = h.cache.Purge()
	}
	if h.metrics != nil {
		h.metrics.RecordPurge()
	}
	h.logger.Info("Prerender cache purged", map[string]interface{}{"reason": "manual", "entries": n})
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// Metrics exposes the server's Prometheus metrics in text format to CMS
// users, for deployments where the metrics listener is not reachable
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusNotFound, "not_found", "Metrics are disabled")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.metrics.WriteText(w); err != nil {
		h.logger.Warn("Failed to write metrics", map[string]interface{}{"error": err.Error()})
	}
}
