package agentrun

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the agent run loop.
type Metrics struct {
	Runs        *prometheus.CounterVec
	Steps       *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// NewMetrics creates and registers agent run metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedhive",
			Subsystem: "agentrun",
			Name:      "runs_total",
			Help:      "Total agent runs by terminal status.",
		}, []string{"status"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedhive",
			Subsystem: "agentrun",
			Name:      "steps_total",
			Help:      "Total agent run steps by outcome.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feedhive",
			Subsystem: "agentrun",
			Name:      "run_duration_seconds",
			Help:      "Duration of each agent run.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
	}

	reg.MustRegister(m.Runs, m.Steps, m.RunDuration)
	return m
}
