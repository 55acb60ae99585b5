package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const readinessTimeout = 3 * time.Second

// HealthChecker aggregates readiness probes over registered dependencies.
// Liveness is unconditional; readiness fans the probes out concurrently
// under a shared timeout so one slow dependency cannot serialize the rest.
type HealthChecker struct {
	mu     sync.Mutex
	names  []string
	probes map[string]func(ctx context.Context) error
	logger *slog.Logger
}

// HealthStatus is the JSON response for health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency probe.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // Error message on failure.
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a HealthChecker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		probes: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a named readiness probe. Re-registering a name
// replaces the previous probe.
func (h *HealthChecker) AddCheck(name string, probe func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.probes[name]; !exists {
		h.names = append(h.names, name)
	}
	h.probes[name] = probe
}

// CheckHealth is the liveness probe. A running process is alive; dependency
// state is readiness, not liveness.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered probe concurrently and aggregates the
// results. The status is "ok" only when all probes pass.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	names := make([]string, len(h.names))
	copy(names, h.names)
	probes := make(map[string]func(ctx context.Context) error, len(h.probes))
	for name, probe := range h.probes {
		probes[name] = probe
	}
	h.mu.Unlock()

	if len(names) == 0 {
		return HealthStatus{Status: "ok"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			start := time.Now()
			err := probes[name](probeCtx)
			results[i] = CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
			}
		}(i, name)
	}
	wg.Wait()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(names)),
	}
	for i, name := range names {
		status.Checks[name] = results[i]
		if results[i].Status != "ok" {
			status.Status = "degraded"
			if h.logger != nil {
				h.logger.Warn("readiness check failed",
					slog.String("check", name),
					slog.String("error", results[i].Message),
				)
			}
		}
	}
	return status
}
