// Package firestore provides a Firestore implementation of the subsync.Store
// interface. This implementation uses Google Cloud Firestore transactions so
// the uniqueness checks and the compare-and-swap on updated_at commit
// atomically.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Store implements subsync.Store using Google Cloud Firestore
type Store struct {
	client                  *firestore.Client
	subscriptionsCollection string
	userIndexCollection     string
}

// Config holds Firestore store configuration
type Config struct {
	// SubscriptionsCollection holds one document per subscription, keyed by
	// the external subscription id. Default: "billing_subscriptions"
	SubscriptionsCollection string

	// UserIndexCollection maps user ids to their subscription id, keyed by
	// user id. Default: "billing_subscription_users"
	UserIndexCollection string
}

// New creates a new Firestore store adapter
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.UserIndexCollection == "" {
		config.UserIndexCollection = "billing_subscription_users"
	}

	return &Store{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
		userIndexCollection:     config.UserIndexCollection,
	}, nil
}

// subscriptionDoc is the Firestore document shape for one subscription.
// Timestamps are stored with microsecond precision, so updated_at values
// written here must already be truncated to microseconds for the CAS
// comparison to hold after a round trip.
type subscriptionDoc struct {
	UserID                 string    `firestore:"userID"`
	ExternalSubscriptionID string    `firestore:"externalSubscriptionID"`
	ExternalCustomerID     string    `firestore:"externalCustomerID"`
	Status                 string    `firestore:"status"`
	PriceID                string    `firestore:"priceID"`
	CancelAtPeriodEnd      bool      `firestore:"cancelAtPeriodEnd"`
	CurrentPeriodEnd       time.Time `firestore:"currentPeriodEnd"`
	ObservedAt             time.Time `firestore:"observedAt"`
	CreatedAt              time.Time `firestore:"createdAt"`
	UpdatedAt              time.Time `firestore:"updatedAt"`
}

type userIndexDoc struct {
	SubscriptionID string `firestore:"subscriptionID"`
}

// GetByUser implements subsync.Store
func (s *Store) GetByUser(ctx context.Context, userID string) (*subsync.SubscriptionRecord, error) {
	snap, err := s.client.Collection(s.userIndexCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subsync.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to resolve user index: %w: %w", err, subsync.ErrStoreUnavailable)
	}

	var idx userIndexDoc
	if err := snap.DataTo(&idx); err != nil {
		return nil, fmt.Errorf("failed to decode user index: %w", err)
	}

	return s.GetByExternalID(ctx, idx.SubscriptionID)
}

// GetByExternalID implements subsync.Store
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*subsync.SubscriptionRecord, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(externalID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subsync.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w: %w", err, subsync.ErrStoreUnavailable)
	}

	var doc subscriptionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return docToRecord(&doc)
}

// errTxConflict marks a lost compare-and-swap inside the transaction closure
// so it can be told apart from infrastructure failures afterwards.
var errTxConflict = errors.New("firestore: record conflict")

// Upsert implements subsync.Store with a compare-and-swap on updated_at
func (s *Store) Upsert(ctx context.Context, rec *subsync.SubscriptionRecord, expectedUpdatedAt time.Time) error {
	if rec == nil || rec.UserID == "" || rec.ExternalSubscriptionID == "" {
		return subsync.ErrInvalidPayload
	}

	subRef := s.client.Collection(s.subscriptionsCollection).Doc(rec.ExternalSubscriptionID)
	userRef := s.client.Collection(s.userIndexCollection).Doc(rec.UserID)

	newUpdatedAt := time.Now().UTC().Truncate(time.Microsecond)
	if !expectedUpdatedAt.IsZero() && !newUpdatedAt.After(expectedUpdatedAt) {
		newUpdatedAt = expectedUpdatedAt.Add(time.Microsecond)
	}
	var createdAt time.Time

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		subSnap, err := tx.Get(subRef)
		subExists := err == nil
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read subscription: %w", err)
		}

		if expectedUpdatedAt.IsZero() {
			if subExists {
				return errTxConflict
			}
			_, err := tx.Get(userRef)
			if err == nil {
				return errTxConflict
			}
			if status.Code(err) != codes.NotFound {
				return fmt.Errorf("failed to read user index: %w", err)
			}

			createdAt = newUpdatedAt
			if err := tx.Set(subRef, recordToDoc(rec, createdAt, newUpdatedAt)); err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
			return tx.Set(userRef, userIndexDoc{SubscriptionID: rec.ExternalSubscriptionID})
		}

		if !subExists {
			return errTxConflict
		}
		var current subscriptionDoc
		if err := subSnap.DataTo(&current); err != nil {
			return fmt.Errorf("failed to decode subscription: %w", err)
		}
		if !current.UpdatedAt.Equal(expectedUpdatedAt) {
			return errTxConflict
		}
		if current.UserID != rec.UserID {
			// Ownership is immutable after creation.
			return errTxConflict
		}

		createdAt = current.CreatedAt
		return tx.Set(subRef, recordToDoc(rec, createdAt, newUpdatedAt))
	})
	if err != nil {
		if errors.Is(err, errTxConflict) {
			return subsync.ErrRecordConflict
		}
		return fmt.Errorf("failed to upsert subscription: %w: %w", err, subsync.ErrStoreUnavailable)
	}

	rec.CreatedAt = createdAt
	rec.UpdatedAt = newUpdatedAt
	return nil
}

func recordToDoc(rec *subsync.SubscriptionRecord, createdAt, updatedAt time.Time) *subscriptionDoc {
	return &subscriptionDoc{
		UserID:                 rec.UserID,
		ExternalSubscriptionID: rec.ExternalSubscriptionID,
		ExternalCustomerID:     rec.ExternalCustomerID,
		Status:                 string(rec.Status),
		PriceID:                rec.PriceID,
		CancelAtPeriodEnd:      rec.CancelAtPeriodEnd,
		CurrentPeriodEnd:       rec.CurrentPeriodEnd,
		ObservedAt:             rec.ObservedAt,
		CreatedAt:              createdAt,
		UpdatedAt:              updatedAt,
	}
}

func docToRecord(doc *subscriptionDoc) (*subsync.SubscriptionRecord, error) {
	parsed, err := subsync.ParseStatus(doc.Status)
	if err != nil {
		return nil, err
	}
	return &subsync.SubscriptionRecord{
		UserID:                 doc.UserID,
		ExternalSubscriptionID: doc.ExternalSubscriptionID,
		ExternalCustomerID:     doc.ExternalCustomerID,
		Status:                 parsed,
		PriceID:                doc.PriceID,
		CancelAtPeriodEnd:      doc.CancelAtPeriodEnd,
		CurrentPeriodEnd:       doc.CurrentPeriodEnd,
		ObservedAt:             doc.ObservedAt,
		CreatedAt:              doc.CreatedAt,
		UpdatedAt:              doc.UpdatedAt,
	}, nil
}
