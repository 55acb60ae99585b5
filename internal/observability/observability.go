// Package observability wires Prometheus metrics, OpenTelemetry tracing,
// readiness probes, and error-rate anomaly detection into one optional
// facade. Every component can be absent; consumers check for nil once and
// the instrumented wrappers degrade to passthroughs.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedhive/feedhive/internal/config"
)

// Observability bundles the enabled components. A nil field means the
// feature is switched off in config.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker
}

// New assembles the facade from config. A nil config disables everything
// and returns nil. Otherwise the health checker always exists (probes are
// registered by the caller) and each remaining component is built only
// when its section is enabled.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}

	obs := &Observability{Health: NewHealthChecker(logger)}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	return obs, nil
}

// Shutdown flushes the tracer. Metrics and health need no teardown.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil || o.Tracer == nil {
		return
	}
	_ = o.Tracer.Shutdown(ctx)
}

// TracerOrNil tolerates a nil receiver so call sites can pass the result
// straight into the instrumented wrappers.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}
