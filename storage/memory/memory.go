// Package memory provides an in-memory implementation of the subsync.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Av3ksi/psychedu4-sub000/pkg/subsync"
)

// Store implements subsync.Store using in-memory maps.
// A single mutex serializes all writes, which trivially satisfies the
// per-subscription write serialization the interface requires.
type Store struct {
	mu     sync.RWMutex
	bySub  map[string]*subsync.SubscriptionRecord // external subscription id -> record
	byUser map[string]string                      // user id -> external subscription id
	now    func() time.Time
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		bySub:  make(map[string]*subsync.SubscriptionRecord),
		byUser: make(map[string]string),
		now:    time.Now,
	}
}

// GetByUser implements subsync.Store
func (s *Store) GetByUser(ctx context.Context, userID string) (*subsync.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subID, ok := s.byUser[userID]
	if !ok {
		return nil, subsync.ErrRecordNotFound
	}

	rec := *s.bySub[subID]
	return &rec, nil
}

// GetByExternalID implements subsync.Store
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*subsync.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.bySub[externalID]
	if !ok {
		return nil, subsync.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// Upsert implements subsync.Store with a compare-and-swap on UpdatedAt
func (s *Store) Upsert(ctx context.Context, rec *subsync.SubscriptionRecord, expectedUpdatedAt time.Time) error {
	if rec == nil || rec.UserID == "" || rec.ExternalSubscriptionID == "" {
		return subsync.ErrInvalidPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.bySub[rec.ExternalSubscriptionID]

	if expectedUpdatedAt.IsZero() {
		// Insert: both uniqueness constraints are enforced here.
		if exists {
			return subsync.ErrRecordConflict
		}
		if _, taken := s.byUser[rec.UserID]; taken {
			return subsync.ErrRecordConflict
		}

		now := s.now().UTC()
		recCopy := *rec
		recCopy.CreatedAt = now
		recCopy.UpdatedAt = now
		s.bySub[recCopy.ExternalSubscriptionID] = &recCopy
		s.byUser[recCopy.UserID] = recCopy.ExternalSubscriptionID

		rec.CreatedAt = recCopy.CreatedAt
		rec.UpdatedAt = recCopy.UpdatedAt
		return nil
	}

	// Update: the record must still be where the caller read it.
	if !exists || !existing.UpdatedAt.Equal(expectedUpdatedAt) {
		return subsync.ErrRecordConflict
	}
	if existing.UserID != rec.UserID {
		// Ownership is immutable after creation.
		return subsync.ErrRecordConflict
	}

	now := s.now().UTC()
	if !now.After(existing.UpdatedAt) {
		// Keep UpdatedAt strictly advancing so it stays a usable CAS token.
		now = existing.UpdatedAt.Add(time.Nanosecond)
	}

	recCopy := *rec
	recCopy.CreatedAt = existing.CreatedAt
	recCopy.UpdatedAt = now
	s.bySub[recCopy.ExternalSubscriptionID] = &recCopy

	rec.CreatedAt = recCopy.CreatedAt
	rec.UpdatedAt = recCopy.UpdatedAt
	return nil
}
