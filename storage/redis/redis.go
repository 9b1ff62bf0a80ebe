// Package redis provides a Redis implementation of the subsync.Store
// interface. This implementation uses atomic operations via Lua scripts for
// transaction safety: the uniqueness checks and the compare-and-swap on
// updated_at execute inside a single script invocation.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Store implements subsync.Store using Redis
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "subsync:",
	}
}

// New creates a new Redis store adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "subsync:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}

	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Store) loadScripts() {
	// Insert or CAS-update a subscription record. The record body, its
	// ownership, and both timestamps live in one hash; the user index is a
	// plain key pointing at the subscription id. A single script keeps the
	// uniqueness checks and the swap atomic without WATCH/MULTI retries.
	//
	// Returns {'ok', created_at} on success, {'conflict'} on any lost race,
	// uniqueness violation, or ownership change.
	s.scripts["upsert"] = redis.NewScript(`
		local subKey = KEYS[1]
		local userKey = KEYS[2]
		local subID = ARGV[1]
		local userID = ARGV[2]
		local data = ARGV[3]
		local updatedAt = ARGV[4]
		local expected = ARGV[5]

		if expected == "" then
			if redis.call('EXISTS', subKey) == 1 then
				return {'conflict'}
			end
			if redis.call('EXISTS', userKey) == 1 then
				return {'conflict'}
			end
			redis.call('HSET', subKey,
				'data', data,
				'user_id', userID,
				'created_at', updatedAt,
				'updated_at', updatedAt)
			redis.call('SET', userKey, subID)
			return {'ok', updatedAt}
		end

		if redis.call('EXISTS', subKey) == 0 then
			return {'conflict'}
		end
		if redis.call('HGET', subKey, 'updated_at') ~= expected then
			return {'conflict'}
		end
		if redis.call('HGET', subKey, 'user_id') ~= userID then
			return {'conflict'}
		end

		local createdAt = redis.call('HGET', subKey, 'created_at')
		redis.call('HSET', subKey, 'data', data, 'updated_at', updatedAt)
		return {'ok', createdAt}
	`)
}

// redisRecord is the JSON body stored in the record hash. Ownership and the
// concurrency timestamps are kept as separate hash fields so the Lua script
// can compare them without parsing JSON.
type redisRecord struct {
	ExternalSubscriptionID string    `json:"external_subscription_id"`
	ExternalCustomerID     string    `json:"external_customer_id,omitempty"`
	Status                 string    `json:"status"`
	PriceID                string    `json:"price_id,omitempty"`
	CancelAtPeriodEnd      bool      `json:"cancel_at_period_end"`
	CurrentPeriodEnd       time.Time `json:"current_period_end,omitempty"`
	ObservedAt             time.Time `json:"observed_at"`
}

func (s *Store) subKey(externalID string) string {
	return s.config.KeyPrefix + "sub:" + externalID
}

func (s *Store) userKey(userID string) string {
	return s.config.KeyPrefix + "user:" + userID
}

// GetByUser implements subsync.Store
func (s *Store) GetByUser(ctx context.Context, userID string) (*subsync.SubscriptionRecord, error) {
	subID, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, subsync.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to resolve user index: %w: %w", err, subsync.ErrStoreUnavailable)
	}
	return s.GetByExternalID(ctx, subID)
}

// GetByExternalID implements subsync.Store
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*subsync.SubscriptionRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.subKey(externalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w: %w", err, subsync.ErrStoreUnavailable)
	}
	if len(fields) == 0 {
		return nil, subsync.ErrRecordNotFound
	}
	return decodeRecord(fields)
}

// Upsert implements subsync.Store with a compare-and-swap on updated_at.
// Timestamps are serialized as RFC3339Nano so the swap is a plain string
// comparison inside the script.
func (s *Store) Upsert(ctx context.Context, rec *subsync.SubscriptionRecord, expectedUpdatedAt time.Time) error {
	if rec == nil || rec.UserID == "" || rec.ExternalSubscriptionID == "" {
		return subsync.ErrInvalidPayload
	}

	body, err := json.Marshal(redisRecord{
		ExternalSubscriptionID: rec.ExternalSubscriptionID,
		ExternalCustomerID:     rec.ExternalCustomerID,
		Status:                 string(rec.Status),
		PriceID:                rec.PriceID,
		CancelAtPeriodEnd:      rec.CancelAtPeriodEnd,
		CurrentPeriodEnd:       rec.CurrentPeriodEnd,
		ObservedAt:             rec.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	newUpdatedAt := time.Now().UTC()
	if !expectedUpdatedAt.IsZero() && !newUpdatedAt.After(expectedUpdatedAt) {
		// Keep updated_at strictly advancing so it stays a usable CAS token.
		newUpdatedAt = expectedUpdatedAt.Add(time.Nanosecond)
	}

	expected := ""
	if !expectedUpdatedAt.IsZero() {
		expected = expectedUpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	res, err := s.scripts["upsert"].Run(ctx, s.client,
		[]string{s.subKey(rec.ExternalSubscriptionID), s.userKey(rec.UserID)},
		rec.ExternalSubscriptionID,
		rec.UserID,
		string(body),
		newUpdatedAt.Format(time.RFC3339Nano),
		expected,
	).Result()
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w: %w", err, subsync.ErrStoreUnavailable)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return fmt.Errorf("unexpected upsert reply: %v", res)
	}
	if st, _ := reply[0].(string); st != "ok" {
		return subsync.ErrRecordConflict
	}

	createdAt := newUpdatedAt
	if len(reply) > 1 {
		if raw, ok := reply[1].(string); ok {
			if parsed, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
				createdAt = parsed
			}
		}
	}

	rec.CreatedAt = createdAt
	rec.UpdatedAt = newUpdatedAt
	return nil
}

func decodeRecord(fields map[string]string) (*subsync.SubscriptionRecord, error) {
	var body redisRecord
	if err := json.Unmarshal([]byte(fields["data"]), &body); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	status, err := subsync.ParseStatus(body.Status)
	if err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &subsync.SubscriptionRecord{
		UserID:                 fields["user_id"],
		ExternalSubscriptionID: body.ExternalSubscriptionID,
		ExternalCustomerID:     body.ExternalCustomerID,
		Status:                 status,
		PriceID:                body.PriceID,
		CancelAtPeriodEnd:      body.CancelAtPeriodEnd,
		CurrentPeriodEnd:       body.CurrentPeriodEnd,
		ObservedAt:             body.ObservedAt,
		CreatedAt:              createdAt,
		UpdatedAt:              updatedAt,
	}, nil
}
