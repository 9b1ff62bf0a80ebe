package stripe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

func subscriptionEventPayload(eventType, status string, created time.Time, cancelAtPeriodEnd bool) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"created": %d,
		"data": {
			"object": {
				"id": "sub_1",
				"object": "subscription",
				"status": %q,
				"cancel_at_period_end": %t,
				"customer": {"id": "cus_1"},
				"items": {
					"data": [
						{"price": {"id": "price_basic"}, "current_period_end": %d}
					]
				}
			}
		}
	}`, stripe.APIVersion, eventType, created.Unix(), status, cancelAtPeriodEnd, created.Add(30*24*time.Hour).Unix()))
}

func checkoutEventPayload(created time.Time, userID string) []byte {
	metadata := "{}"
	if userID != "" {
		metadata = fmt.Sprintf(`{"user_id": %q}`, userID)
	}
	return []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"object": "event",
		"api_version": %q,
		"type": "checkout.session.completed",
		"created": %d,
		"data": {
			"object": {
				"id": "cs_1",
				"object": "checkout.session",
				"metadata": %s,
				"subscription": {"id": "sub_1"}
			}
		}
	}`, stripe.APIVersion, created.Unix(), metadata))
}

func deliver(p *Provider, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(w, req)
	return w
}

func TestWebhook_InvalidSignature(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	payload := subscriptionEventPayload(eventSubscriptionUpdated, "active", time.Now(), false)

	w := deliver(p, payload, signPayload(payload, "whsec_wrong_secret", time.Now()))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong secret, got %d", w.Code)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	payload := subscriptionEventPayload(eventSubscriptionUpdated, "active", time.Now(), false)

	w := deliver(p, payload, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for missing signature, got %d", w.Code)
	}
}

func TestWebhook_TamperedPayload(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	payload := subscriptionEventPayload(eventSubscriptionUpdated, "active", time.Now(), false)
	sig := signPayload(payload, testWebhookSecret, time.Now())
	tampered := bytes.Replace(payload, []byte(`"active"`), []byte(`"canceled"`), 1)

	w := deliver(p, tampered, sig)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for tampered payload, got %d", w.Code)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	w := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestWebhook_UnknownEventTypeAcknowledged(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_3",
		"object": "event",
		"api_version": %q,
		"type": "invoice.payment_succeeded",
		"created": %d,
		"data": {"object": {"id": "in_1"}}
	}`, stripe.APIVersion, time.Now().Unix()))

	w := deliver(p, payload, signPayload(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for unhandled event type, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhook_SubscriptionUpdated(t *testing.T) {
	p, manager := newTestProvider(t, &fakeAPI{})
	seedRecord(t, manager, "user1", time.Now().UTC().Add(-time.Hour))

	created := time.Now().UTC()
	payload := subscriptionEventPayload(eventSubscriptionUpdated, "past_due", created, false)

	w := deliver(p, payload, signPayload(payload, testWebhookSecret, created))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	rec, err := manager.GetRecordBySubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("GetRecordBySubscription failed: %v", err)
	}
	if rec.Status != subsync.StatusPastDue {
		t.Errorf("Expected past_due after webhook, got %s", rec.Status)
	}
	if rec.UserID != "user1" {
		t.Errorf("Webhook must not change ownership: got %s", rec.UserID)
	}
}

func TestWebhook_SubscriptionDeleted(t *testing.T) {
	p, manager := newTestProvider(t, &fakeAPI{})
	seedRecord(t, manager, "user1", time.Now().UTC().Add(-time.Hour))

	created := time.Now().UTC()
	payload := subscriptionEventPayload(eventSubscriptionDeleted, "canceled", created, false)

	w := deliver(p, payload, signPayload(payload, testWebhookSecret, created))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	entitled, err := manager.IsEntitled(context.Background(), "user1")
	if err != nil {
		t.Fatalf("IsEntitled failed: %v", err)
	}
	if entitled {
		t.Error("Expected entitlement revoked after deletion event")
	}
}

func TestWebhook_StaleEventSkipped(t *testing.T) {
	p, manager := newTestProvider(t, &fakeAPI{})
	seedRecord(t, manager, "user1", time.Now().UTC())

	// Event created before the record's last observation.
	created := time.Now().UTC().Add(-time.Hour)
	payload := subscriptionEventPayload(eventSubscriptionUpdated, "canceled", created, false)

	w := deliver(p, payload, signPayload(payload, testWebhookSecret, time.Now()))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for stale event, got %d: %s", w.Code, w.Body.String())
	}

	rec, err := manager.GetRecordBySubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("GetRecordBySubscription failed: %v", err)
	}
	if rec.Status != subsync.StatusActive {
		t.Errorf("Stale event changed the record: got %s", rec.Status)
	}
}

func TestWebhook_UpdateBeforeCheckout(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	created := time.Now().UTC()
	payload := subscriptionEventPayload(eventSubscriptionUpdated, "active", created, false)

	// No record exists yet; Stripe should retry after the checkout event lands.
	w := deliver(p, payload, signPayload(payload, testWebhookSecret, created))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for update before checkout, got %d", w.Code)
	}
}

func TestWebhook_StoreUnavailable(t *testing.T) {
	manager, err := subsync.NewManager(downStore{}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	p := newTestProviderWith(t, &fakeAPI{}, manager)

	created := time.Now().UTC()
	payload := subscriptionEventPayload(eventSubscriptionUpdated, "active", created, false)

	// Nothing was written; a 500 makes Stripe redeliver once the store is back.
	w := deliver(p, payload, signPayload(payload, testWebhookSecret, created))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for unavailable store, got %d", w.Code)
	}
}

func TestWebhook_CheckoutCompleted(t *testing.T) {
	api := &fakeAPI{
		retrieve: func(ctx context.Context, id string) (*stripe.Subscription, error) {
			if id != "sub_1" {
				t.Errorf("Unexpected retrieve id: %s", id)
			}
			return &stripe.Subscription{
				ID:       "sub_1",
				Status:   stripe.SubscriptionStatusActive,
				Customer: &stripe.Customer{ID: "cus_1"},
				Items: &stripe.SubscriptionItemList{
					Data: []*stripe.SubscriptionItem{
						{Price: &stripe.Price{ID: "price_basic"}, CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour).Unix()},
					},
				},
			}, nil
		},
	}
	p, manager := newTestProvider(t, api)

	created := time.Now().UTC()
	payload := checkoutEventPayload(created, "user1")

	w := deliver(p, payload, signPayload(payload, testWebhookSecret, created))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	rec, err := manager.GetRecord(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.ExternalSubscriptionID != "sub_1" {
		t.Errorf("Unexpected subscription id: %s", rec.ExternalSubscriptionID)
	}
	if rec.Status != subsync.StatusActive {
		t.Errorf("Unexpected status: %s", rec.Status)
	}
	if rec.PriceID != "price_basic" {
		t.Errorf("Unexpected price id: %s", rec.PriceID)
	}
}

func TestWebhook_CheckoutMissingUserID(t *testing.T) {
	p, _ := newTestProvider(t, &fakeAPI{})

	created := time.Now().UTC()
	payload := checkoutEventPayload(created, "")

	// Redelivery cannot fix a missing user reference, so this must not 5xx.
	w := deliver(p, payload, signPayload(payload, testWebhookSecret, created))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing metadata.user_id, got %d", w.Code)
	}
}

func TestWebhook_CheckoutRedelivery(t *testing.T) {
	api := &fakeAPI{
		retrieve: func(ctx context.Context, id string) (*stripe.Subscription, error) {
			return &stripe.Subscription{
				ID:       "sub_1",
				Status:   stripe.SubscriptionStatusActive,
				Customer: &stripe.Customer{ID: "cus_1"},
			}, nil
		},
	}
	p, manager := newTestProvider(t, api)

	created := time.Now().UTC()
	payload := checkoutEventPayload(created, "user1")
	sig := signPayload(payload, testWebhookSecret, created)

	if w := deliver(p, payload, sig); w.Code != http.StatusOK {
		t.Fatalf("First delivery failed: %d", w.Code)
	}
	if w := deliver(p, payload, sig); w.Code != http.StatusOK {
		t.Fatalf("Redelivery failed: %d", w.Code)
	}

	rec, err := manager.GetRecord(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.UserID != "user1" {
		t.Errorf("Unexpected owner: %s", rec.UserID)
	}
}

func TestWebhook_UnknownStatusRejected(t *testing.T) {
	p, manager := newTestProvider(t, &fakeAPI{})
	seedRecord(t, manager, "user1", time.Now().UTC().Add(-time.Hour))

	created := time.Now().UTC()
	payload := subscriptionEventPayload(eventSubscriptionUpdated, "paused", created, false)

	w := deliver(p, payload, signPayload(payload, testWebhookSecret, created))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", w.Code)
	}
}
