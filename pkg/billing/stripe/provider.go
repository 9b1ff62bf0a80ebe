package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Av3ksi/psychedu4-sub000/pkg/billing"
	"github.com/Av3ksi/psychedu4-sub000/pkg/billing/internal"
	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBody           = 256 * 1024

	eventCheckoutCompleted   = "checkout.session.completed"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
)

// subscriptionAPI is the slice of the Stripe client the provider needs.
// Narrowing it here keeps the command/reconcile paths testable without a
// network round trip.
type subscriptionAPI interface {
	Retrieve(ctx context.Context, id string) (*stripe.Subscription, error)
	Update(ctx context.Context, id string, params *stripe.SubscriptionUpdateParams) (*stripe.Subscription, error)
}

type v1SubscriptionAPI struct {
	client *stripe.Client
}

func (a *v1SubscriptionAPI) Retrieve(ctx context.Context, id string) (*stripe.Subscription, error) {
	return a.client.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (a *v1SubscriptionAPI) Update(ctx context.Context, id string, params *stripe.SubscriptionUpdateParams) (*stripe.Subscription, error) {
	return a.client.V1Subscriptions.Update(ctx, id, params)
}

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Manager, Metrics, Logger, ...)

	// Stripe-specific credentials. When empty, the generic APIKey and
	// WebhookSecret from the embedded billing.Config are used instead.
	StripeAPIKey        string
	StripeWebhookSecret string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	manager       *subsync.Manager
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	apiKey        string
	api           subscriptionAPI
	metrics       billing.Metrics
	logger        subsync.Logger
	onProcessed   func(event *billing.WebhookEvent)
	now           func() time.Time
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(config.APIKey)
	}
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	webhookSecret := strings.TrimSpace(config.StripeWebhookSecret)
	if webhookSecret == "" {
		webhookSecret = strings.TrimSpace(config.WebhookSecret)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	// All outbound API calls go through the caller's client, so its timeout,
	// proxy, and transport instrumentation apply.
	stripeClient := stripe.NewClient(apiKey,
		stripe.WithBackends(stripe.NewBackends(httpClient)))

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	logger := config.Logger
	if logger == nil {
		logger = &subsync.NoopLogger{}
	}

	return &Provider{
		manager:       config.Manager,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret: []byte(webhookSecret),
		apiKey:        apiKey,
		api:           &v1SubscriptionAPI{client: stripeClient},
		metrics:       metrics,
		logger:        logger,
		onProcessed:   config.OnWebhookProcessed,
		now:           time.Now,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}

// classifyAPIError maps a Stripe client error onto the billing error taxonomy.
// 4xx responses are provider-side rejections; everything else (timeouts,
// network failures, 5xx) is transient and leaves local state untouched.
func classifyAPIError(op string, err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		if sErr.HTTPStatusCode >= 400 && sErr.HTTPStatusCode < 500 {
			return fmt.Errorf("%s: %s: %w", op, sErr.Msg, billing.ErrCommandRejected)
		}
		return fmt.Errorf("%s: %s: %w", op, sErr.Msg, billing.ErrProviderUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, billing.ErrProviderUnavailable)
	}
	return fmt.Errorf("%s: %v: %w", op, err, billing.ErrProviderUnavailable)
}
