package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/Av3ksi/psychedu4-sub000/pkg/billing"
	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Cancel schedules the subscription to cancel at the end of the current
// billing period. It blocks for Stripe's synchronous acknowledgement and
// merges the returned object immediately, so the caller's UI response never
// depends on a later webhook. Access is not terminated by this call; the
// status stays active until the period actually ends.
func (p *Provider) Cancel(ctx context.Context, userID, subscriptionID string) (*subsync.SubscriptionRecord, error) {
	rec, err := p.ownedRecord(ctx, userID, subscriptionID)
	if err != nil {
		p.metrics.RecordCommand(providerName, "cancel", "error")
		return nil, err
	}

	if rec.Status == subsync.StatusCanceled {
		p.metrics.RecordCommand(providerName, "cancel", "rejected")
		return nil, fmt.Errorf("%w: subscription %s is already canceled", subsync.ErrInvalidState, subscriptionID)
	}

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	return p.applyCommand(ctx, "cancel", subscriptionID, params)
}

// Reactivate clears a pending cancel-at-period-end. It is only valid while
// the cancellation has not taken effect: full cancellation is terminal and
// must be re-purchased through a new checkout, so a record with status
// canceled fails with subsync.ErrInvalidState before any provider call.
func (p *Provider) Reactivate(ctx context.Context, userID, subscriptionID string) (*subsync.SubscriptionRecord, error) {
	rec, err := p.ownedRecord(ctx, userID, subscriptionID)
	if err != nil {
		p.metrics.RecordCommand(providerName, "reactivate", "error")
		return nil, err
	}

	if rec.Status == subsync.StatusCanceled {
		p.metrics.RecordCommand(providerName, "reactivate", "rejected")
		return nil, fmt.Errorf("%w: subscription %s is terminally canceled", subsync.ErrInvalidState, subscriptionID)
	}
	if !rec.CancelAtPeriodEnd {
		p.metrics.RecordCommand(providerName, "reactivate", "rejected")
		return nil, fmt.Errorf("%w: subscription %s is not scheduled to cancel", subsync.ErrInvalidState, subscriptionID)
	}

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	return p.applyCommand(ctx, "reactivate", subscriptionID, params)
}

// applyCommand issues the mutating call and funnels the synchronous response
// through the shared normalize/merge path. If the call fails or times out,
// local state is left untouched; the caller re-queries via Reconcile instead
// of assuming an outcome.
func (p *Provider) applyCommand(ctx context.Context, command, subscriptionID string, params *stripe.SubscriptionUpdateParams) (*subsync.SubscriptionRecord, error) {
	sub, err := p.api.Update(ctx, subscriptionID, params)
	if err != nil {
		classified := classifyAPIError(command, err)
		p.metrics.RecordCommand(providerName, command, commandOutcome(classified))
		return nil, classified
	}

	snap, err := normalizeSubscription(sub, p.now().UTC())
	if err != nil {
		p.metrics.RecordCommand(providerName, command, "error")
		return nil, err
	}

	merged, err := p.manager.ApplySnapshot(ctx, "command", snap)
	if err != nil {
		p.metrics.RecordCommand(providerName, command, "error")
		return nil, err
	}

	p.metrics.RecordCommand(providerName, command, "success")
	p.logger.Info("subscription command applied",
		subsync.Field{Key: "command", Value: command},
		subsync.Field{Key: "subscription_id", Value: subscriptionID},
		subsync.Field{Key: "cancel_at_period_end", Value: merged.CancelAtPeriodEnd},
		subsync.Field{Key: "status", Value: string(merged.Status)},
	)
	return merged, nil
}

func commandOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, billing.ErrCommandRejected) {
		return "rejected"
	}
	return "error"
}
