package billing

import (
	"context"
	"net/http"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Provider is the generic interface a billing backend must implement.
// All three entry points funnel into the same subsync merge path; the
// provider's job is to verify, normalize, and forward.
type Provider interface {
	// Name returns the provider name (e.g. "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that ingests the provider's
	// asynchronous, at-least-once event deliveries. The implementation
	// handles signature verification, parsing, and merge internally.
	WebhookHandler() http.Handler

	// Reconcile asks the provider for the current truth of one subscription
	// and merges it into the local record. It exists to bridge the gap
	// before a webhook arrives and never creates records: the record must
	// already exist and be owned by userID.
	Reconcile(ctx context.Context, userID, subscriptionID string) (*subsync.SubscriptionRecord, error)

	// Cancel sets the subscription to cancel at period end and merges the
	// provider's synchronous response. Access is not terminated immediately.
	Cancel(ctx context.Context, userID, subscriptionID string) (*subsync.SubscriptionRecord, error)

	// Reactivate clears a pending cancellation. Only valid while the
	// subscription is scheduled to cancel and not yet terminally canceled;
	// a fully canceled subscription must be re-purchased via a new checkout.
	Reactivate(ctx context.Context, userID, subscriptionID string) (*subsync.SubscriptionRecord, error)
}
