package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Av3ksi/psychedu4-sub000/pkg/billing"
	"github.com/Av3ksi/psychedu4-sub000/pkg/billing/internal"
	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// handleWebhook processes incoming Stripe webhook deliveries.
//
// Response codes follow the provider's retry contract: 2xx acknowledges
// (including recognized-but-no-op events), 4xx marks a delivery permanently
// invalid so it is not retried, and 5xx asks Stripe to redeliver. Deliveries
// are at-least-once and may arrive out of order; idempotency comes from the
// merge rule, not from this handler.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// Signature verification is the only validity check before parsing.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		status := webhookErrorStatus(err)
		http.Error(w, "failed to process webhook", status)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, webhookErrorType(err))
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		p.logger.Error("webhook processing failed",
			subsync.Field{Key: "event_type", Value: eventType},
			subsync.Field{Key: "event_id", Value: event.ID},
			subsync.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processWebhookEvent dispatches a verified event to its handler.
// Unmatched event types are acknowledged without any store mutation: the
// provider may introduce new types at any time and they must not be errors.
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	eventTimestamp := time.Unix(event.Created, 0).UTC()

	switch string(event.Type) {
	case eventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case eventSubscriptionUpdated, eventSubscriptionDeleted:
		return p.handleSubscriptionEvent(ctx, event, eventTimestamp)
	default:
		return nil
	}
}

// handleCheckoutCompleted processes checkout.session.completed events.
// This is the only path allowed to create a record, because only the checkout
// session carries the owning user reference.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: unmarshal checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	if session.Subscription == nil || session.Subscription.ID == "" {
		// Not a subscription checkout - ignore
		return nil
	}

	userID := ""
	if session.Metadata != nil {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		// Fatal and non-retryable: Stripe will never supply the missing
		// field on redelivery.
		return fmt.Errorf("%w: checkout session %s has no metadata.user_id", subsync.ErrMissingUserID, session.ID)
	}

	// The session embeds only a subscription reference; fetch the full
	// object so the snapshot carries status, price, and period end.
	sub, err := p.api.Retrieve(ctx, session.Subscription.ID)
	if err != nil {
		return classifyAPIError("retrieve subscription", err)
	}

	snap, err := normalizeSubscription(sub, p.now().UTC())
	if err != nil {
		return err
	}

	rec, err := p.manager.CreateFromCheckout(ctx, userID, snap)
	if err != nil {
		return err
	}

	p.notifyProcessed(string(event.Type), "", rec)
	return nil
}

// handleSubscriptionEvent processes customer.subscription.updated and
// customer.subscription.deleted events through the shared merge path.
func (p *Provider) handleSubscriptionEvent(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	snap, err := normalizeSubscription(&sub, eventTimestamp)
	if err != nil {
		return err
	}

	previous := ""
	if p.onProcessed != nil {
		if cur, err := p.manager.GetRecordBySubscription(ctx, snap.ExternalSubscriptionID); err == nil {
			previous = string(cur.Status)
		}
	}

	rec, err := p.manager.ApplySnapshot(ctx, "webhook", snap)
	if err != nil {
		return err
	}

	p.notifyProcessed(string(event.Type), previous, rec)
	return nil
}

func (p *Provider) notifyProcessed(eventType, previousStatus string, rec *subsync.SubscriptionRecord) {
	if p.onProcessed == nil || rec == nil {
		return
	}
	p.onProcessed(&billing.WebhookEvent{
		UserID:         rec.UserID,
		SubscriptionID: rec.ExternalSubscriptionID,
		PreviousStatus: previousStatus,
		NewStatus:      string(rec.Status),
		Provider:       providerName,
		EventType:      eventType,
		ObservedAt:     rec.ObservedAt,
	})
}

// webhookErrorStatus maps processing errors onto the retry contract.
func webhookErrorStatus(err error) int {
	switch {
	case errors.Is(err, billing.ErrInvalidWebhookPayload),
		errors.Is(err, subsync.ErrUnknownStatus),
		errors.Is(err, subsync.ErrInvalidPayload),
		errors.Is(err, subsync.ErrMissingUserID):
		return http.StatusBadRequest
	case errors.Is(err, subsync.ErrSubscriptionMismatch),
		errors.Is(err, subsync.ErrOwnershipMismatch):
		// Conflicts need manual investigation; retrying cannot resolve them.
		return http.StatusConflict
	case errors.Is(err, subsync.ErrStoreUnavailable):
		// Nothing was written; let Stripe redeliver.
		return http.StatusInternalServerError
	default:
		// Record not created yet, merge contention: transient, let Stripe
		// redeliver.
		return http.StatusInternalServerError
	}
}

func webhookErrorType(err error) string {
	switch {
	case errors.Is(err, billing.ErrInvalidWebhookPayload),
		errors.Is(err, subsync.ErrUnknownStatus),
		errors.Is(err, subsync.ErrInvalidPayload),
		errors.Is(err, subsync.ErrMissingUserID):
		return "invalid_payload"
	case errors.Is(err, subsync.ErrSubscriptionMismatch),
		errors.Is(err, subsync.ErrOwnershipMismatch):
		return "conflict"
	case errors.Is(err, subsync.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "processing_error"
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
