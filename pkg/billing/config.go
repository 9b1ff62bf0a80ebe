package billing

import (
	"net/http"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Manager is the subsync Manager that owns the subscription records.
	// Every snapshot a provider produces is applied through it.
	Manager *subsync.Manager

	// WebhookSecret is used to verify incoming webhook deliveries
	// (e.g. the Stripe-Signature header).
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (reconciliation reads and cancel/reactivate commands).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for provider operations.
	// If nil, metrics are silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus.
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger).
	Logger subsync.Logger

	// OnWebhookProcessed is an optional callback invoked after a webhook
	// event has been merged into the store. Useful for side channels such as
	// telling the UI layer to drop its cached subscription state.
	OnWebhookProcessed func(event *WebhookEvent)
}
