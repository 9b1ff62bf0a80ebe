package billing

import "time"

// WebhookEvent contains information about a successfully processed webhook
// delivery. It is passed to Config.OnWebhookProcessed after the snapshot has
// been merged into the store.
type WebhookEvent struct {
	// UserID is the internal user identifier owning the record
	UserID string

	// SubscriptionID is the provider's subscription identifier
	SubscriptionID string

	// PreviousStatus is the record status before the merge
	// (empty string for a newly created record)
	PreviousStatus string

	// NewStatus is the record status after the merge
	NewStatus string

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider-specific event type
	// (e.g. "checkout.session.completed", "customer.subscription.deleted")
	EventType string

	// ObservedAt is the snapshot's observation time (from the provider event)
	ObservedAt time.Time
}
