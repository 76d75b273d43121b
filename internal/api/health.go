package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/nerrad567/homelink-core/internal/device"
)

// healthCheckTimeout bounds each backing-service probe.
const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// HealthReport is the /api/v1/health response.
type HealthReport struct {
	Status        string                 `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Checks        map[string]CheckResult `json:"checks"`
	Registry      device.Stats           `json:"registry"`
	Observers     int                    `json:"observers"`
	Runtime       RuntimeMetrics         `json:"runtime"`
}

// CheckResult is the outcome of one backing-service probe.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleHealth probes every configured backing service. Any failure
// degrades the report and the response becomes 503 so load balancers can
// act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{
		Status:        statusOK,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Checks:        make(map[string]CheckResult, len(s.checks)),
		Registry:      s.registry.Stats(),
		Observers:     s.stream.SessionCount(),
		Runtime:       readRuntimeMetrics(),
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()

		if err != nil {
			report.Status = statusDegraded
			report.Checks[name] = CheckResult{Status: statusDegraded, Error: err.Error()}
			continue
		}
		report.Checks[name] = CheckResult{Status: statusOK}
	}

	status := http.StatusOK
	if report.Status != statusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func readRuntimeMetrics() RuntimeMetrics {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
		NumGC:         memStats.NumGC,
	}
}
