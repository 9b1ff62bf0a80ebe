package subsync

import (
	"fmt"
	"strings"
	"time"
)

// Status is the closed set of subscription states this library persists.
// Provider payloads are parsed into it at the boundary; unknown values are
// rejected there so every switch over Status can stay exhaustive.
type Status string

const (
	// StatusActive represents a paid, current subscription
	StatusActive Status = "active"
	// StatusPastDue represents a subscription with a failed renewal payment
	// that the provider is still retrying
	StatusPastDue Status = "past_due"
	// StatusCanceled represents a terminally canceled subscription
	StatusCanceled Status = "canceled"
	// StatusIncomplete represents a subscription whose initial payment has
	// not completed yet
	StatusIncomplete Status = "incomplete"
	// StatusTrialing represents a subscription inside its trial period
	StatusTrialing Status = "trialing"
	// StatusUnpaid represents a subscription the provider gave up collecting on
	StatusUnpaid Status = "unpaid"
)

// ParseStatus converts a provider status string into a Status.
// Returns ErrUnknownStatus for anything outside the closed set.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusPastDue:
		return StatusPastDue, nil
	case StatusCanceled:
		return StatusCanceled, nil
	case StatusIncomplete:
		return StatusIncomplete, nil
	case StatusTrialing:
		return StatusTrialing, nil
	case StatusUnpaid:
		return StatusUnpaid, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// SubscriptionSnapshot is a normalized, provider-agnostic view of one billing
// subscription's state at a point in time. Snapshots are transient: they are
// produced by normalization at the provider boundary and consumed by Merge.
type SubscriptionSnapshot struct {
	// ExternalSubscriptionID is the provider's stable subscription identifier
	ExternalSubscriptionID string

	// ExternalCustomerID is the provider's customer identifier
	ExternalCustomerID string

	// Status is the normalized subscription status
	Status Status

	// PriceID is the provider price the subscription is billed on
	PriceID string

	// CancelAtPeriodEnd is true when the subscription is scheduled to cancel
	// at the end of the current billing period
	CancelAtPeriodEnd bool

	// CurrentPeriodEnd is when the current billing period ends
	// (zero when the provider did not supply it)
	CurrentPeriodEnd time.Time

	// ObservedAt is when this snapshot was produced: the webhook event's
	// created time, or the moment a synchronous provider call returned.
	// It is carried from normalization, never assigned by the store,
	// and drives the last-observed-wins merge ordering.
	ObservedAt time.Time
}

// Validate checks the snapshot has the fields every merge path requires.
func (s *SubscriptionSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidPayload)
	}
	if s.ExternalSubscriptionID == "" {
		return fmt.Errorf("%w: missing external subscription id", ErrInvalidPayload)
	}
	if _, err := ParseStatus(string(s.Status)); err != nil {
		return err
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing observed_at", ErrInvalidPayload)
	}
	return nil
}

// SubscriptionRecord is the durable, user-owned subscription state.
// At most one record exists per user, and external subscription ids are
// unique across records. Records are never hard-deleted: a fully canceled
// subscription stays behind with StatusCanceled.
type SubscriptionRecord struct {
	// UserID is the owning identity. It is assigned once, by the
	// checkout-completion path, and no later event may change it.
	UserID string

	// Snapshot fields
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 Status
	PriceID                string
	CancelAtPeriodEnd      bool
	CurrentPeriodEnd       time.Time
	ObservedAt             time.Time

	// CreatedAt is set by the store on first insert
	CreatedAt time.Time

	// UpdatedAt is set by the store on every accepted write. It is
	// monotonically non-decreasing and doubles as the optimistic-concurrency
	// token for Store.Upsert.
	UpdatedAt time.Time
}

// Snapshot returns the record's snapshot fields as a SubscriptionSnapshot.
func (r *SubscriptionRecord) Snapshot() SubscriptionSnapshot {
	return SubscriptionSnapshot{
		ExternalSubscriptionID: r.ExternalSubscriptionID,
		ExternalCustomerID:     r.ExternalCustomerID,
		Status:                 r.Status,
		PriceID:                r.PriceID,
		CancelAtPeriodEnd:      r.CancelAtPeriodEnd,
		CurrentPeriodEnd:       r.CurrentPeriodEnd,
		ObservedAt:             r.ObservedAt,
	}
}

// CacheConfig holds record cache configuration
type CacheConfig struct {
	// Enabled determines if the read-through cache is active
	Enabled bool

	// RecordTTL is the TTL for cached records (default: 1 minute)
	RecordTTL time.Duration

	// MaxRecords is the maximum number of records to cache (default: 1000)
	MaxRecords int
}

// Config holds Manager configuration
type Config struct {
	// CacheConfig configures the read-through record cache.
	// If nil, caching is disabled.
	CacheConfig *CacheConfig

	// Metrics is used for tracking merge and entitlement operations
	// (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Now returns the current time; overridable for tests (default: time.Now)
	Now func() time.Time
}
