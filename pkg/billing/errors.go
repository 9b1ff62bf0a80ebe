package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation
	// fails. Never retried, never mutates state.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot be
	// parsed or normalized. Logged, not retried.
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrCommandRejected is returned when the provider rejects a cancel or
	// reactivate command (no such subscription, already canceled, ...).
	// Local state is never mutated on rejection.
	ErrCommandRejected = errors.New("command rejected by billing provider")

	// ErrProviderUnavailable is returned on network failures or timeouts
	// talking to the provider. Transient: local state is unchanged and the
	// caller should re-query via Reconcile rather than assume an outcome.
	ErrProviderUnavailable = errors.New("billing provider unavailable")
)
