package subsync

import "errors"

var (
	// ErrRecordNotFound is returned when no subscription record exists for
	// the requested user or external subscription id
	ErrRecordNotFound = errors.New("subscription record not found")

	// ErrRecordConflict is returned by Store.Upsert when the record changed
	// since it was read (optimistic-concurrency failure) or when an insert
	// collides with an existing record. Safe to retry after re-reading.
	ErrRecordConflict = errors.New("subscription record conflict")

	// ErrSubscriptionMismatch is returned when an incoming snapshot carries a
	// different external subscription id than the user's existing record.
	// Never auto-resolved; requires manual investigation.
	ErrSubscriptionMismatch = errors.New("external subscription id mismatch")

	// ErrOwnershipMismatch is returned when a caller's identity does not own
	// the record it is operating on
	ErrOwnershipMismatch = errors.New("subscription owned by another user")

	// ErrUnknownStatus is returned when a provider status string is outside
	// the closed Status enum
	ErrUnknownStatus = errors.New("unknown subscription status")

	// ErrInvalidPayload is returned for malformed or incomplete snapshots
	ErrInvalidPayload = errors.New("invalid subscription payload")

	// ErrInvalidState is returned when a command is not valid in the
	// record's current state (e.g. reactivating a terminally canceled
	// subscription)
	ErrInvalidState = errors.New("invalid subscription state for operation")

	// ErrMissingUserID is returned when a creation path is entered without
	// an owning user id
	ErrMissingUserID = errors.New("missing user id")

	// ErrStoreUnavailable is returned when the store cannot be reached.
	// Transient: safe to retry, no partial state was written.
	ErrStoreUnavailable = errors.New("subscription store unavailable")
)
