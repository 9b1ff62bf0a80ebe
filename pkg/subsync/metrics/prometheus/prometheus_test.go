package prommetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetrics_RecordMerge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordMerge("webhook", "applied")
	metrics.RecordMerge("webhook", "applied")
	metrics.RecordMerge("reconcile", "stale")

	applied := counterValue(t, reg, "test_subsync_merges_total",
		map[string]string{"source": "webhook", "outcome": "applied"})
	if applied != 2 {
		t.Errorf("Expected 2 applied webhook merges, got %v", applied)
	}

	stale := counterValue(t, reg, "test_subsync_merges_total",
		map[string]string{"source": "reconcile", "outcome": "stale"})
	if stale != 1 {
		t.Errorf("Expected 1 stale reconcile merge, got %v", stale)
	}
}

func TestMetrics_RecordStatusChange(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStatusChange("active", "past_due")

	v := counterValue(t, reg, "test_subsync_status_changes_total",
		map[string]string{"from": "active", "to": "past_due"})
	if v != 1 {
		t.Errorf("Expected 1 status change, got %v", v)
	}
}

func TestMetrics_RecordEntitlementCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordEntitlementCheck("entitled")
	metrics.RecordEntitlementCheck("not_entitled")
	metrics.RecordEntitlementCheck("not_entitled")

	v := counterValue(t, reg, "test_subsync_entitlement_checks_total",
		map[string]string{"result": "not_entitled"})
	if v != 2 {
		t.Errorf("Expected 2 not_entitled checks, got %v", v)
	}
}

func TestMetrics_RecordCacheHit(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordCacheHit("hit")
	metrics.RecordCacheHit("miss")

	hits := counterValue(t, reg, "test_subsync_cache_lookups_total",
		map[string]string{"outcome": "hit"})
	if hits != 1 {
		t.Errorf("Expected 1 cache hit, got %v", hits)
	}
}

func TestMetrics_ImplementsInterface(t *testing.T) {
	var _ subsync.Metrics = NewMetrics(prometheus.NewRegistry(), "test")
}
