package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the pipeline executor.
type Metrics struct {
	Runs         *prometheus.CounterVec
	StepFailures *prometheus.CounterVec
	RunDuration  prometheus.Histogram
}

// NewMetrics creates and registers pipeline metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedhive",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by final status.",
		}, []string{"status"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedhive",
			Subsystem: "pipeline",
			Name:      "step_failures_total",
			Help:      "Total failed pipeline steps by step name.",
		}, []string{"step"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feedhive",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of each full pipeline run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
	}

	reg.MustRegister(m.Runs, m.StepFailures, m.RunDuration)
	return m
}
