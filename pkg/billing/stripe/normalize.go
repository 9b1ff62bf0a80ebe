package stripe

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Av3ksi/psychedu4-sub000/pkg/billing"
	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// normalizeSubscription converts a Stripe subscription object into a
// provider-agnostic snapshot. This is the single chokepoint where Stripe's
// stringly-typed payload becomes the closed Status enum; unknown statuses are
// rejected here instead of leaking into the store.
//
// observedAt must be the moment the underlying state was true: the webhook
// event's created time for asynchronous deliveries, or "now" for snapshots
// taken off a synchronous API response.
func normalizeSubscription(sub *stripe.Subscription, observedAt time.Time) (*subsync.SubscriptionSnapshot, error) {
	if sub == nil || sub.ID == "" {
		return nil, fmt.Errorf("%w: missing subscription object", billing.ErrInvalidWebhookPayload)
	}

	status, err := subsync.ParseStatus(string(sub.Status))
	if err != nil {
		return nil, err
	}

	snap := &subsync.SubscriptionSnapshot{
		ExternalSubscriptionID: sub.ID,
		Status:                 status,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		ObservedAt:             observedAt,
	}

	if sub.Customer != nil {
		snap.ExternalCustomerID = sub.Customer.ID
	}

	// Period end and price live on the subscription items. Single-price
	// subscriptions are the norm; with multiple items the latest period end
	// wins, since access lasts until the last item expires.
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if snap.PriceID == "" && item.Price != nil {
				snap.PriceID = item.Price.ID
			}
			if item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
				if end.After(snap.CurrentPeriodEnd) {
					snap.CurrentPeriodEnd = end
				}
			}
		}
	}

	return snap, nil
}
