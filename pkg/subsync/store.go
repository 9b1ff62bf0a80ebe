package subsync

import (
	"context"
	"time"
)

// Store defines the interface for subscription record persistence.
// Implementations must serialize writes per external subscription id: Upsert
// is a compare-and-swap on UpdatedAt so two concurrent merges can never
// interleave into a hybrid record.
type Store interface {
	// GetByUser retrieves the record owned by userID.
	// Returns ErrRecordNotFound if the user has no record.
	GetByUser(ctx context.Context, userID string) (*SubscriptionRecord, error)

	// GetByExternalID retrieves the record for an external subscription id.
	// Returns ErrRecordNotFound if no record exists.
	GetByExternalID(ctx context.Context, externalID string) (*SubscriptionRecord, error)

	// Upsert writes the record with optimistic concurrency.
	//
	// A zero expectedUpdatedAt means insert: the write fails with
	// ErrRecordConflict if a record already exists for the user or the
	// external subscription id. A non-zero expectedUpdatedAt means update:
	// the write fails with ErrRecordConflict unless the stored UpdatedAt
	// still equals it.
	//
	// On success the store sets rec.UpdatedAt (and rec.CreatedAt on insert)
	// to its own clock; UpdatedAt is monotonically non-decreasing per record.
	Upsert(ctx context.Context, rec *SubscriptionRecord, expectedUpdatedAt time.Time) error
}
