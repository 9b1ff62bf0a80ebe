package subsync

// Entitled maps a subscription record (or its absence) to the binary
// premium-access decision used by all content-gating call sites.
//
// Pure, no I/O. A nil record is never entitled. past_due stays entitled for
// the provider's billing-retry grace window; a subscription scheduled to
// cancel at period end keeps access until the provider actually flips the
// status to canceled.
func Entitled(rec *SubscriptionRecord) bool {
	if rec == nil {
		return false
	}
	switch rec.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	case StatusCanceled, StatusIncomplete, StatusUnpaid:
		return false
	default:
		// Unknown statuses are rejected at the boundary; anything else
		// reaching here is treated as not entitled.
		return false
	}
}
