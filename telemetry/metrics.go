// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CapturesCreated  prometheus.Counter
	CapturesLinked   prometheus.Counter
	CapturesPruned   prometheus.Counter
	CapturesCanceled prometheus.Counter
	CaptureConflicts *prometheus.CounterVec // label: op
	CapturesSkipped  *prometheus.CounterVec // label: op
	ReconcilePasses  *prometheus.CounterVec // label: result
	PrunePasses      *prometheus.CounterVec // label: result
	VODLookups       *prometheus.CounterVec // label: source (cache|helix|miss|error)

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer
	PruneDuration     prometheus.Observer

	// Gauges
	PendingCapturesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CapturesCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_captures_created_total", Help: "Number of captures created"})
		CapturesLinked = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_captures_linked_total", Help: "Number of live captures linked to a VOD"})
		CapturesPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_captures_pruned_total", Help: "Number of captures deleted by retention"})
		CapturesCanceled = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_captures_canceled_total", Help: "Number of pending captures canceled"})
		CaptureConflicts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_capture_conflicts_total", Help: "Compare-and-set conflicts by operation"}, []string{"op"})
		CapturesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_captures_skipped_total", Help: "Captures skipped within a pass after retry"}, []string{"op"})
		ReconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_reconcile_passes_total", Help: "Reconcile passes by result"}, []string{"result"})
		PrunePasses = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_prune_passes_total", Help: "Prune passes by result"}, []string{"result"})
		VODLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_vod_lookups_total", Help: "VOD metadata lookups by source"}, []string{"source"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_reconcile_duration_seconds", Help: "Reconcile pass duration seconds", Buckets: prometheus.DefBuckets})
		PruneDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_prune_duration_seconds", Help: "Prune pass duration seconds", Buckets: prometheus.DefBuckets})
		PendingCapturesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_pending_captures", Help: "Live captures awaiting a VOD as of the last sweep"})
	})
}

// SetPending records the current pending capture count.
func SetPending(n int) {
	if PendingCapturesGauge != nil {
		PendingCapturesGauge.Set(float64(n))
	}
}

// AddCounter adds n to c when c is registered.
func AddCounter(c prometheus.Counter, n int) {
	if c != nil && n > 0 {
		c.Add(float64(n))
	}
}

// IncVec increments the labelled counter when vec is registered.
func IncVec(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
