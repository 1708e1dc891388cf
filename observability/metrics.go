package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type kernelMetrics struct {
	ticks        *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	tickLatency  *prometheus.HistogramVec
	budgetGauge  prometheus.Gauge
	lyapunovStep prometheus.Gauge
}

var (
	kernelMetricsOnce sync.Once
	kernelRegistry    *kernelMetrics

	replayMetricsOnce sync.Once
	replayRegistry    *ReplayMetrics

	retentionMetricsOnce sync.Once
	retentionRegistry    *RetentionMetrics
)

// Kernel returns the lazily-initialised metrics registry used to record
// micro-step engine activity.
func Kernel() *kernelMetrics {
	kernelMetricsOnce.Do(func() {
		kernelRegistry = &kernelMetrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "kernel",
				Name:      "ticks_total",
				Help:      "Total published receipts segmented by decision.",
			}, []string{"decision"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "kernel",
				Name:      "rejections_total",
				Help:      "Total rejected ticks segmented by rejection code.",
			}, []string{"code"}),
			tickLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gmk",
				Subsystem: "kernel",
				Name:      "tick_duration_seconds",
				Help:      "Latency distribution for full ticks (propose, govern, step, publish).",
				Buckets:   prometheus.DefBuckets,
			}, []string{"decision"}),
			budgetGauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "gmk",
				Subsystem: "kernel",
				Name:      "budget_q",
				Help:      "Remaining metabolic budget after the most recent tick, Q18.",
			}),
			lyapunovStep: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "gmk",
				Subsystem: "kernel",
				Name:      "lyapunov_q",
				Help:      "Lyapunov value after the most recent tick, Q18.",
			}),
		}
		prometheus.MustRegister(
			kernelRegistry.ticks,
			kernelRegistry.rejections,
			kernelRegistry.tickLatency,
			kernelRegistry.budgetGauge,
			kernelRegistry.lyapunovStep,
		)
	})
	return kernelRegistry
}

// ObserveTick records one published receipt and the wall-clock cost of
// producing it. Wall-clock here is telemetry only; it never feeds a
// kernel decision.
func (m *kernelMetrics) ObserveTick(decision, code string, duration time.Duration) {
	if m == nil {
		return
	}
	if decision == "" {
		decision = "unknown"
	}
	label := strings.ToLower(decision)
	m.ticks.WithLabelValues(label).Inc()
	m.tickLatency.WithLabelValues(label).Observe(duration.Seconds())
	if code != "" {
		m.rejections.WithLabelValues(code).Inc()
	}
}

// RecordState publishes the post-tick budget and Lyapunov gauges.
func (m *kernelMetrics) RecordState(budgetQ, lyapunovQ int64) {
	if m == nil {
		return
	}
	m.budgetGauge.Set(float64(budgetQ))
	m.lyapunovStep.Set(float64(lyapunovQ))
}

// ReplayMetrics captures verifier outcomes.
type ReplayMetrics struct {
	runs        *prometheus.CounterVec
	divergences *prometheus.CounterVec
}

// Replay returns the singleton metrics registry for the replay
// verifier.
func Replay() *ReplayMetrics {
	replayMetricsOnce.Do(func() {
		replayRegistry = &ReplayMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "replay",
				Name:      "runs_total",
				Help:      "Replay verification runs segmented by outcome.",
			}, []string{"outcome"}),
			divergences: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "replay",
				Name:      "divergences_total",
				Help:      "Replay divergences segmented by the first divergent field.",
			}, []string{"field"}),
		}
		prometheus.MustRegister(replayRegistry.runs, replayRegistry.divergences)
	})
	return replayRegistry
}

// ObserveRun records a completed verification run.
func (m *ReplayMetrics) ObserveRun(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "diverged"
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// ObserveDivergence records the first divergent field of a failed run.
// Field names should be the receipt_core keys so dashboards stay
// stable.
func (m *ReplayMetrics) ObserveDivergence(field string) {
	if m == nil {
		return
	}
	if field == "" {
		field = "unknown"
	}
	m.divergences.WithLabelValues(field).Inc()
}

// RetentionMetrics captures slab lifecycle activity.
type RetentionMetrics struct {
	transitions *prometheus.CounterVec
	disputes    *prometheus.CounterVec
	finalizes   *prometheus.CounterVec
}

// Retention returns the singleton metrics registry for the slab FSM.
func Retention() *RetentionMetrics {
	retentionMetricsOnce.Do(func() {
		retentionRegistry = &RetentionMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "retention",
				Name:      "transitions_total",
				Help:      "Slab state transitions segmented by target state.",
			}, []string{"state"}),
			disputes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "retention",
				Name:      "disputes_total",
				Help:      "Fraud-proof submissions segmented by outcome code.",
			}, []string{"code"}),
			finalizes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "retention",
				Name:      "finalizes_total",
				Help:      "Finalize attempts segmented by outcome code.",
			}, []string{"code"}),
		}
		prometheus.MustRegister(
			retentionRegistry.transitions,
			retentionRegistry.disputes,
			retentionRegistry.finalizes,
		)
	})
	return retentionRegistry
}

// ObserveTransition records a slab reaching a new lifecycle state.
func (m *RetentionMetrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(strings.ToLower(state)).Inc()
}

// ObserveDispute records a fraud-proof submission outcome. An empty
// code means the dispute was accepted.
func (m *RetentionMetrics) ObserveDispute(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "accepted"
	}
	m.disputes.WithLabelValues(code).Inc()
}

// ObserveFinalize records a finalize attempt outcome. An empty code
// means the slab finalized.
func (m *RetentionMetrics) ObserveFinalize(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "finalized"
	}
	m.finalizes.WithLabelValues(code).Inc()
}
