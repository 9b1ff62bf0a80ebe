// Package api provides HTTP endpoints for inspecting and refreshing a user's
// synced subscription state. The read endpoint serves the local record only;
// the action endpoints delegate to the billing provider and return the merged
// record from the provider's synchronous response.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Av3ksi/psychedu4-sub000/pkg/billing"
	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for subscription inspection and commands
type Handler struct {
	config Config
}

// GetSubscription returns the user's current subscription record as the local
// store knows it. It never calls the billing provider; clients that suspect
// staleness follow up with Sync.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}

	rec, err := h.config.Manager.GetRecord(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err, errorStatus(err))
		return
	}

	h.writeRecord(w, rec)
}

// Sync triggers a reconciliation of the user's subscription against the
// billing provider and returns the refreshed record.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "sync", func(provider billing.Provider, userID, subscriptionID string) (*subsync.SubscriptionRecord, error) {
		return provider.Reconcile(r.Context(), userID, subscriptionID)
	})
}

// Cancel schedules the user's subscription to cancel at period end
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "cancel", func(provider billing.Provider, userID, subscriptionID string) (*subsync.SubscriptionRecord, error) {
		return provider.Cancel(r.Context(), userID, subscriptionID)
	})
}

// Reactivate clears a pending cancellation on the user's subscription
func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "reactivate", func(provider billing.Provider, userID, subscriptionID string) (*subsync.SubscriptionRecord, error) {
		return provider.Reactivate(r.Context(), userID, subscriptionID)
	})
}

// command shares the envelope of the three provider-backed endpoints: resolve
// the caller's record, run the action against the provider, return the merged
// record.
func (h *Handler) command(
	w http.ResponseWriter, r *http.Request, name string,
	action func(billing.Provider, string, string) (*subsync.SubscriptionRecord, error),
) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	if h.config.Provider == nil {
		h.handleError(w, r, billing.ErrProviderNotConfigured, http.StatusNotImplemented)
		return
	}

	userID, ok := h.requestUser(w, r)
	if !ok {
		return
	}

	rec, err := h.config.Manager.GetRecord(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err, errorStatus(err))
		return
	}

	updated, err := action(h.config.Provider, userID, rec.ExternalSubscriptionID)
	if err != nil {
		h.config.Logger.Warn("subscription command failed",
			subsync.Field{Key: "command", Value: name},
			subsync.Field{Key: "user_id", Value: userID},
			subsync.Field{Key: "error", Value: err.Error()},
		)
		h.handleError(w, r, err, errorStatus(err))
		return
	}

	h.writeRecord(w, updated)
}

func (h *Handler) requestUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

func (h *Handler) writeRecord(w http.ResponseWriter, rec *subsync.SubscriptionRecord) {
	resp := SubscriptionResponse{
		UserID:            rec.UserID,
		SubscriptionID:    rec.ExternalSubscriptionID,
		Status:            string(rec.Status),
		PriceID:           rec.PriceID,
		CancelAtPeriodEnd: rec.CancelAtPeriodEnd,
		Entitled:          subsync.Entitled(rec),
		ObservedAt:        rec.ObservedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
	if !rec.CurrentPeriodEnd.IsZero() {
		end := rec.CurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		// Response already sent
		return
	}
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, subsync.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, subsync.ErrOwnershipMismatch):
		return http.StatusForbidden
	case errors.Is(err, subsync.ErrInvalidState),
		errors.Is(err, subsync.ErrSubscriptionMismatch),
		errors.Is(err, billing.ErrCommandRejected):
		return http.StatusConflict
	case errors.Is(err, subsync.ErrInvalidPayload),
		errors.Is(err, subsync.ErrUnknownStatus):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, subsync.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if encodeErr := json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()}); encodeErr != nil {
		_ = encodeErr
	}
}
