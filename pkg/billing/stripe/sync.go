package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Reconcile fetches the current truth of one subscription straight from the
// Stripe API and merges it into the local record. It exists to cover the gap
// between checkout completion and webhook delivery, and for clients that ask
// "what is my subscription right now".
//
// It never creates a record: the owning user id is only ever established by
// the checkout-completion event. A missing local record fails with
// subsync.ErrRecordNotFound; a record owned by a different user with
// subsync.ErrOwnershipMismatch.
func (p *Provider) Reconcile(ctx context.Context, userID, subscriptionID string) (*subsync.SubscriptionRecord, error) {
	startTime := time.Now()

	if _, err := p.ownedRecord(ctx, userID, subscriptionID); err != nil {
		p.metrics.RecordReconcile(providerName, "error")
		return nil, err
	}

	apiStart := time.Now()
	sub, err := p.api.Retrieve(ctx, subscriptionID)
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/{id}", time.Since(apiStart))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/{id}", "error")
		p.metrics.RecordReconcile(providerName, "error")
		p.metrics.RecordReconcileDuration(providerName, time.Since(startTime))
		return nil, classifyAPIError("retrieve subscription", err)
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/{id}", "200")

	snap, err := normalizeSubscription(sub, p.now().UTC())
	if err != nil {
		p.metrics.RecordReconcile(providerName, "error")
		return nil, err
	}

	merged, err := p.manager.ApplySnapshot(ctx, "reconcile", snap)
	if err != nil {
		p.metrics.RecordReconcile(providerName, "error")
		p.metrics.RecordReconcileDuration(providerName, time.Since(startTime))
		return nil, err
	}

	p.metrics.RecordReconcile(providerName, "success")
	p.metrics.RecordReconcileDuration(providerName, time.Since(startTime))

	p.logger.Debug("subscription reconciled",
		subsync.Field{Key: "subscription_id", Value: subscriptionID},
		subsync.Field{Key: "user_id", Value: userID},
		subsync.Field{Key: "status", Value: string(merged.Status)},
	)
	return merged, nil
}

// ownedRecord loads the local record for subscriptionID and verifies that
// userID owns it. Shared by the reconcile and command paths.
func (p *Provider) ownedRecord(ctx context.Context, userID, subscriptionID string) (*subsync.SubscriptionRecord, error) {
	if userID == "" {
		return nil, subsync.ErrMissingUserID
	}

	rec, err := p.manager.GetRecordBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, fmt.Errorf("%w: subscription %s", subsync.ErrOwnershipMismatch, subscriptionID)
	}
	return rec, nil
}
