package subsync

import "fmt"

// Merge reconciles an incoming snapshot with the current record.
//
// It is the single rule shared by the webhook, reconciliation, and command
// paths. Ordering is last-observed-wins: the snapshot is applied only if its
// ObservedAt is not before the record's stored ObservedAt, which makes the
// rule safe against slow webhook retries racing a fast synchronous call.
//
// Returns the resulting record and whether the snapshot was applied. A stale
// snapshot returns (current, false, nil); skipping is not an error under
// at-least-once delivery. The returned record is always a copy; Merge never
// mutates its arguments.
func Merge(current *SubscriptionRecord, incoming *SubscriptionSnapshot) (*SubscriptionRecord, bool, error) {
	if err := incoming.Validate(); err != nil {
		return nil, false, err
	}
	if current == nil {
		// Creation requires an owning user id and is reserved for the
		// checkout-completion path; see Manager.CreateFromCheckout.
		return nil, false, ErrRecordNotFound
	}

	if current.ExternalSubscriptionID != incoming.ExternalSubscriptionID {
		return nil, false, fmt.Errorf("%w: record has %q, snapshot has %q",
			ErrSubscriptionMismatch, current.ExternalSubscriptionID, incoming.ExternalSubscriptionID)
	}

	if incoming.ObservedAt.Before(current.ObservedAt) {
		cur := *current
		return &cur, false, nil
	}

	merged := *current
	merged.ExternalCustomerID = incoming.ExternalCustomerID
	merged.Status = incoming.Status
	merged.PriceID = incoming.PriceID
	merged.CancelAtPeriodEnd = incoming.CancelAtPeriodEnd
	merged.CurrentPeriodEnd = incoming.CurrentPeriodEnd
	merged.ObservedAt = incoming.ObservedAt
	return &merged, true, nil
}

// NewRecord builds a fresh record from a snapshot for the creation path.
// CreatedAt/UpdatedAt are left zero for the store to assign.
func NewRecord(userID string, snap *SubscriptionSnapshot) (*SubscriptionRecord, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &SubscriptionRecord{
		UserID:                 userID,
		ExternalSubscriptionID: snap.ExternalSubscriptionID,
		ExternalCustomerID:     snap.ExternalCustomerID,
		Status:                 snap.Status,
		PriceID:                snap.PriceID,
		CancelAtPeriodEnd:      snap.CancelAtPeriodEnd,
		CurrentPeriodEnd:       snap.CurrentPeriodEnd,
		ObservedAt:             snap.ObservedAt,
	}, nil
}
