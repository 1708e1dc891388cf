package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	receipts *prometheus.CounterVec
	options  *prometheus.CounterVec
	slabs    *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured kernel
// events: receipt publication, option unfoldings, slab registrations.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "events",
				Name:      "receipts_total",
				Help:      "Count of published receipts segmented by schema.",
			}, []string{"schema"}),
			options: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "events",
				Name:      "option_unfoldings_total",
				Help:      "Count of option unfoldings segmented by end reason.",
			}, []string{"reason"}),
			slabs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gmk",
				Subsystem: "events",
				Name:      "slabs_total",
				Help:      "Count of slab registrations segmented by policy id.",
			}, []string{"policy"}),
		}
		prometheus.MustRegister(
			eventRegistry.receipts,
			eventRegistry.options,
			eventRegistry.slabs,
		)
	})
	return eventRegistry
}

// RecordReceipt increments the receipt counter for the supplied schema id.
func (m *eventMetrics) RecordReceipt(schema string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(schema)
	if normalized == "" {
		normalized = "unknown"
	}
	m.receipts.WithLabelValues(normalized).Inc()
}

// RecordOptionEnd increments the option counter for the supplied end reason.
func (m *eventMetrics) RecordOptionEnd(reason string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(reason)
	if normalized == "" {
		normalized = "terminated"
	}
	m.options.WithLabelValues(normalized).Inc()
}

// RecordSlab increments the slab counter for the supplied policy id.
func (m *eventMetrics) RecordSlab(policyID string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(policyID)
	if normalized == "" {
		normalized = "unknown"
	}
	m.slabs.WithLabelValues(normalized).Inc()
}
