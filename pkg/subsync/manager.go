package subsync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultCacheTTL = time.Minute

	// maxMergeAttempts bounds the re-read/re-merge loop when an Upsert loses
	// an optimistic-concurrency race. The loop converges because the merge
	// rule is last-observed-wins, so a handful of attempts is plenty.
	maxMergeAttempts = 3
)

// Manager coordinates the merge rule, the record store, and the record cache.
// It is the single owner of subscription records: the webhook, reconciliation,
// and command entry points all funnel their snapshots through ApplySnapshot
// or CreateFromCheckout, and entitlement consumers only ever read through it.
//
// Manager holds no mutable state outside the store and cache; it is safe for
// concurrent use by any number of request handlers.
type Manager struct {
	store    Store
	cache    Cache
	cacheTTL time.Duration
	metrics  Metrics
	logger   Logger
	now      func() time.Time
}

// NewManager creates a new Manager backed by the given store.
func NewManager(store Store, config *Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	var cache Cache = NewNoopCache()
	cacheTTL := defaultCacheTTL
	if config.CacheConfig != nil && config.CacheConfig.Enabled {
		cache = NewLRUCache(config.CacheConfig.MaxRecords)
		if config.CacheConfig.RecordTTL > 0 {
			cacheTTL = config.CacheConfig.RecordTTL
		}
	}

	return &Manager{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		metrics:  metrics,
		logger:   logger,
		now:      now,
	}, nil
}

// GetRecord returns the subscription record owned by userID, reading through
// the cache. Returns ErrRecordNotFound if the user has no record.
func (m *Manager) GetRecord(ctx context.Context, userID string) (*SubscriptionRecord, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	if rec, ok := m.cache.GetRecord(userID); ok {
		m.metrics.RecordCacheHit("hit")
		return rec, nil
	}
	m.metrics.RecordCacheHit("miss")

	rec, err := m.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.cache.SetRecord(userID, rec, m.cacheTTL)
	return rec, nil
}

// GetRecordBySubscription returns the record for an external subscription id.
// This path always hits the store: subscription-id lookups back the merge
// paths, which must not read stale data.
func (m *Manager) GetRecordBySubscription(ctx context.Context, externalID string) (*SubscriptionRecord, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing external subscription id", ErrInvalidPayload)
	}
	return m.store.GetByExternalID(ctx, externalID)
}

// ApplySnapshot merges an incoming snapshot into the existing record for its
// subscription id. source labels the entry point for metrics and logging
// ("webhook", "reconcile", "command").
//
// Returns the resulting record. A stale snapshot is skipped without error and
// the current record is returned unchanged. Returns ErrRecordNotFound when no
// record exists yet; creation is reserved for CreateFromCheckout.
func (m *Manager) ApplySnapshot(ctx context.Context, source string, snap *SubscriptionSnapshot) (*SubscriptionRecord, error) {
	if err := snap.Validate(); err != nil {
		m.metrics.RecordMerge(source, "error")
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		current, err := m.store.GetByExternalID(ctx, snap.ExternalSubscriptionID)
		if err != nil {
			if !errors.Is(err, ErrRecordNotFound) {
				m.metrics.RecordMerge(source, "error")
			}
			return nil, err
		}

		merged, applied, err := Merge(current, snap)
		if err != nil {
			m.metrics.RecordMerge(source, "error")
			return nil, err
		}
		if !applied {
			m.metrics.RecordMerge(source, "stale")
			m.logger.Debug("stale snapshot skipped",
				Field{Key: "subscription_id", Value: snap.ExternalSubscriptionID},
				Field{Key: "source", Value: source},
				Field{Key: "observed_at", Value: snap.ObservedAt},
			)
			return merged, nil
		}

		if err := m.store.Upsert(ctx, merged, current.UpdatedAt); err != nil {
			if errors.Is(err, ErrRecordConflict) {
				// Lost the race to a concurrent merge; re-read and re-merge.
				lastErr = err
				continue
			}
			m.metrics.RecordMerge(source, "error")
			return nil, err
		}

		if current.Status != merged.Status {
			m.metrics.RecordStatusChange(string(current.Status), string(merged.Status))
		}
		m.metrics.RecordMerge(source, "applied")
		m.cache.InvalidateRecord(merged.UserID)

		m.logger.Info("snapshot merged",
			Field{Key: "subscription_id", Value: merged.ExternalSubscriptionID},
			Field{Key: "user_id", Value: merged.UserID},
			Field{Key: "source", Value: source},
			Field{Key: "status", Value: string(merged.Status)},
		)
		return merged, nil
	}

	m.metrics.RecordMerge(source, "conflict")
	return nil, fmt.Errorf("merge contention on %s: %w", snap.ExternalSubscriptionID, lastErr)
}

// CreateFromCheckout creates the user's subscription record from a
// checkout-completion snapshot. This is the only path that may assign a
// record's owning user id.
//
// Redelivered checkout events are handled idempotently: if the record already
// exists for the same user and subscription, the snapshot is merged through
// the ordinary ordering rule. A checkout that would give the user a second
// subscription id, or re-home an existing subscription to a different user,
// fails with ErrSubscriptionMismatch / ErrOwnershipMismatch.
func (m *Manager) CreateFromCheckout(ctx context.Context, userID string, snap *SubscriptionSnapshot) (*SubscriptionRecord, error) {
	rec, err := NewRecord(userID, snap)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.GetByExternalID(ctx, snap.ExternalSubscriptionID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return nil, fmt.Errorf("%w: subscription %s", ErrOwnershipMismatch, snap.ExternalSubscriptionID)
		}
		// At-least-once redelivery of the checkout event.
		return m.ApplySnapshot(ctx, "checkout", snap)
	case errors.Is(err, ErrRecordNotFound):
		// First delivery; fall through to insert.
	default:
		return nil, err
	}

	if byUser, err := m.store.GetByUser(ctx, userID); err == nil {
		return nil, fmt.Errorf("%w: user %s already owns %s",
			ErrSubscriptionMismatch, userID, byUser.ExternalSubscriptionID)
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	if err := m.store.Upsert(ctx, rec, time.Time{}); err != nil {
		if errors.Is(err, ErrRecordConflict) {
			// A concurrent delivery won the insert; converge through merge.
			return m.ApplySnapshot(ctx, "checkout", snap)
		}
		return nil, err
	}

	m.metrics.RecordMerge("checkout", "applied")
	m.metrics.RecordStatusChange("", string(rec.Status))
	m.cache.InvalidateRecord(userID)

	m.logger.Info("subscription record created",
		Field{Key: "subscription_id", Value: rec.ExternalSubscriptionID},
		Field{Key: "user_id", Value: userID},
		Field{Key: "status", Value: string(rec.Status)},
	)
	return rec, nil
}

// IsEntitled reports whether the user currently has premium access.
// A user without a record is not entitled; that is not an error.
func (m *Manager) IsEntitled(ctx context.Context, userID string) (bool, error) {
	rec, err := m.GetRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			m.metrics.RecordEntitlementCheck("not_entitled")
			return false, nil
		}
		return false, err
	}

	entitled := Entitled(rec)
	if entitled {
		m.metrics.RecordEntitlementCheck("entitled")
	} else {
		m.metrics.RecordEntitlementCheck("not_entitled")
	}
	return entitled, nil
}

// CacheStats exposes record-cache statistics for diagnostics.
func (m *Manager) CacheStats() CacheStats {
	return m.cache.Stats()
}
