package subsync

// Metrics defines the interface for tracking core sync operations.
// All methods are optional - the Manager gracefully handles nil metrics.
type Metrics interface {
	// RecordMerge records a merge attempt.
	// source: which entry point produced the snapshot ("webhook",
	// "reconcile", "command", or a caller-defined label)
	// outcome: "applied", "stale", "conflict", or "error"
	RecordMerge(source, outcome string)

	// RecordStatusChange records a record's status transition.
	RecordStatusChange(from, to string)

	// RecordEntitlementCheck records an IsEntitled call.
	// result: "entitled" or "not_entitled"
	RecordEntitlementCheck(result string)

	// RecordCacheHit records a record-cache lookup.
	// outcome: "hit" or "miss"
	RecordCacheHit(outcome string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordMerge(_, _ string)          {}
func (n *NoopMetrics) RecordStatusChange(_, _ string)   {}
func (n *NoopMetrics) RecordEntitlementCheck(_ string)  {}
func (n *NoopMetrics) RecordCacheHit(_ string)          {}
