// Package postgres provides a PostgreSQL implementation of the subsync.Store
// interface. Optimistic concurrency is enforced in SQL: updates carry the
// expected updated_at in their predicate, and uniqueness of both user_id and
// external_subscription_id is guaranteed by constraints rather than
// application checks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Schema is the DDL for the subscriptions table. Run it through whatever
// migration tooling the host application uses.
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    external_subscription_id TEXT PRIMARY KEY,
    user_id                  TEXT NOT NULL UNIQUE,
    external_customer_id     TEXT NOT NULL DEFAULT '',
    status                   TEXT NOT NULL,
    price_id                 TEXT NOT NULL DEFAULT '',
    cancel_at_period_end     BOOLEAN NOT NULL DEFAULT FALSE,
    current_period_end       TIMESTAMPTZ,
    observed_at              TIMESTAMPTZ NOT NULL,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const uniqueViolation = "23505"

// Store implements subsync.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const selectColumns = `external_subscription_id, user_id, external_customer_id,
	status, price_id, cancel_at_period_end, current_period_end, observed_at,
	created_at, updated_at`

// GetByUser implements subsync.Store
func (s *Store) GetByUser(ctx context.Context, userID string) (*subsync.SubscriptionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanRecord(row)
}

// GetByExternalID implements subsync.Store
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*subsync.SubscriptionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM subscriptions WHERE external_subscription_id = $1`, externalID)
	return scanRecord(row)
}

// Upsert implements subsync.Store.
// The expected updated_at travels in the UPDATE predicate, so a lost race
// matches zero rows and surfaces as subsync.ErrRecordConflict without ever
// touching the row. updated_at is advanced past its previous value even under
// clock skew, keeping it monotonically non-decreasing.
func (s *Store) Upsert(ctx context.Context, rec *subsync.SubscriptionRecord, expectedUpdatedAt time.Time) error {
	if rec == nil || rec.UserID == "" || rec.ExternalSubscriptionID == "" {
		return subsync.ErrInvalidPayload
	}

	var periodEnd *time.Time
	if !rec.CurrentPeriodEnd.IsZero() {
		periodEnd = &rec.CurrentPeriodEnd
	}

	if expectedUpdatedAt.IsZero() {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO subscriptions
				(external_subscription_id, user_id, external_customer_id, status,
				 price_id, cancel_at_period_end, current_period_end, observed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING created_at, updated_at`,
			rec.ExternalSubscriptionID, rec.UserID, rec.ExternalCustomerID, string(rec.Status),
			rec.PriceID, rec.CancelAtPeriodEnd, periodEnd, rec.ObservedAt,
		).Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return subsync.ErrRecordConflict
			}
			return fmt.Errorf("failed to insert subscription: %w: %w", err, subsync.ErrStoreUnavailable)
		}
		return nil
	}

	err := s.pool.QueryRow(ctx,
		`UPDATE subscriptions SET
			external_customer_id = $3,
			status = $4,
			price_id = $5,
			cancel_at_period_end = $6,
			current_period_end = $7,
			observed_at = $8,
			updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		 WHERE external_subscription_id = $1
		   AND user_id = $2
		   AND updated_at = $9
		 RETURNING created_at, updated_at`,
		rec.ExternalSubscriptionID, rec.UserID, rec.ExternalCustomerID, string(rec.Status),
		rec.PriceID, rec.CancelAtPeriodEnd, periodEnd, rec.ObservedAt, expectedUpdatedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return subsync.ErrRecordConflict
		}
		return fmt.Errorf("failed to update subscription: %w: %w", err, subsync.ErrStoreUnavailable)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*subsync.SubscriptionRecord, error) {
	var rec subsync.SubscriptionRecord
	var status string
	var periodEnd *time.Time

	err := row.Scan(
		&rec.ExternalSubscriptionID,
		&rec.UserID,
		&rec.ExternalCustomerID,
		&status,
		&rec.PriceID,
		&rec.CancelAtPeriodEnd,
		&periodEnd,
		&rec.ObservedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subsync.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w: %w", err, subsync.ErrStoreUnavailable)
	}

	parsed, err := subsync.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = parsed
	if periodEnd != nil {
		rec.CurrentPeriodEnd = *periodEnd
	}
	return &rec, nil
}
