package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/feedhive/feedhive/internal/config"
)

const (
	ringBuckets   = 8
	minSampleSize = 5
)

// AnomalyDetector watches per-operation error rates and logs a warning when
// the rate inside the configured window crosses the threshold. It never
// blocks or fails the operation being observed; a nil detector is a no-op.
type AnomalyDetector struct {
	mu            sync.Mutex
	errorCounts   map[string]*counterRing
	successCounts map[string]*counterRing
	threshold     float64
	window        time.Duration
	logger        *slog.Logger
}

// counterRing counts events in fixed time buckets covering the window.
// Stale buckets are recycled in place, so memory per operation is constant.
type counterRing struct {
	starts [ringBuckets]time.Time
	counts [ringBuckets]int
	width  time.Duration
}

// NewAnomalyDetector creates a detector from config. WindowSeconds defaults
// to five minutes.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	secs := cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return &AnomalyDetector{
		errorCounts:   make(map[string]*counterRing),
		successCounts: make(map[string]*counterRing),
		threshold:     cfg.ErrorRateThreshold,
		window:        time.Duration(secs) * time.Second,
		logger:        logger,
	}
}

// RecordError counts a failed operation and re-evaluates its error rate.
func (a *AnomalyDetector) RecordError(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ring(a.errorCounts, operation).bump(time.Now())
	a.evaluate(operation)
}

// RecordSuccess counts a completed operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ring(a.successCounts, operation).bump(time.Now())
}

// evaluate logs when the windowed error rate crosses the threshold.
// Caller holds a.mu.
func (a *AnomalyDetector) evaluate(operation string) {
	if a.threshold <= 0 || a.logger == nil {
		return
	}
	errs := float64(a.ring(a.errorCounts, operation).sum())
	total := errs + float64(a.ring(a.successCounts, operation).sum())
	if total < minSampleSize {
		return
	}
	if rate := errs / total; rate > a.threshold {
		a.logger.Warn("anomaly detected: high error rate",
			slog.String("operation", operation),
			slog.Float64("error_rate", rate),
			slog.Float64("threshold", a.threshold),
			slog.Float64("errors", errs),
			slog.Float64("total", total),
		)
	}
}

func (a *AnomalyDetector) ring(m map[string]*counterRing, operation string) *counterRing {
	r, ok := m[operation]
	if !ok {
		r = &counterRing{width: a.window / ringBuckets}
		m[operation] = r
	}
	return r
}

// bump adds one event to the bucket covering now, recycling the slot when
// its previous contents have aged out of the window.
func (r *counterRing) bump(now time.Time) {
	start := now.Truncate(r.width)
	i := int(start.UnixNano()/int64(r.width)) % ringBuckets
	if i < 0 {
		i += ringBuckets
	}
	if !r.starts[i].Equal(start) {
		r.starts[i] = start
		r.counts[i] = 0
	}
	r.counts[i]++
}

// sum totals the buckets still inside the window.
func (r *counterRing) sum() int {
	cutoff := time.Now().Add(-time.Duration(ringBuckets) * r.width)
	var total int
	for i, start := range r.starts {
		if !start.IsZero() && start.After(cutoff) {
			total += r.counts[i]
		}
	}
	return total
}
