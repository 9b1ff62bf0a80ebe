package prommetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Metrics implements subsync.Metrics using Prometheus.
type Metrics struct {
	mergesTotal            *prometheus.CounterVec
	statusChangesTotal     *prometheus.CounterVec
	entitlementChecksTotal *prometheus.CounterVec
	cacheLookupsTotal      *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for the core.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		mergesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subsync",
			Name:      "merges_total",
			Help:      "Total number of snapshot merge attempts.",
		}, []string{"source", "outcome"}),

		statusChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subsync",
			Name:      "status_changes_total",
			Help:      "Total number of subscription status transitions.",
		}, []string{"from", "to"}),

		entitlementChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subsync",
			Name:      "entitlement_checks_total",
			Help:      "Total number of entitlement evaluations.",
		}, []string{"result"}),

		cacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subsync",
			Name:      "cache_lookups_total",
			Help:      "Total number of record cache lookups.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordMerge(source, outcome string) {
	m.mergesTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordStatusChange(from, to string) {
	m.statusChangesTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordEntitlementCheck(result string) {
	m.entitlementChecksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCacheHit(outcome string) {
	m.cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) subsync.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
