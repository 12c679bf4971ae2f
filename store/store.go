// Package store provides interfaces and types for dropmail storage.
// Implementations are in store/memory, store/sqlite, store/postgres and
// store/mongo. store/cached wraps any of them with a Redis read-through
// cache for single-entry lookups.
//
// # Architectural Principle: No Distributed Locks
//
// Several service instances may share one backend, and each of them runs its
// own reaper. No component takes a lock that spans processes. Instead:
//
//  1. Inserts are transactional batches. A message and all of its inbox
//     entries are written in one transaction (or one critical section for the
//     in-memory store), so readers never observe half of a delivery.
//
//  2. Maintenance is conditional bulk deletes. DeleteExpired and
//     DeleteOrphans delete by predicate. Two reapers racing on the same rows
//     each delete a disjoint subset, and repeating a sweep is a no-op.
//
//  3. Visibility is computed at read time. Expiry is never written back; every
//     read passes the caller's notion of "now" and filters on it.
//
// Example - concurrent reclamation:
//
//	expired, err := st.DeleteExpired(ctx, now)
//	orphans, err := st.DeleteOrphans(ctx, now)
//	// Safe from any number of instances at once.
package store

import (
	"context"
	"time"
)

// Store is the storage interface for dropmail.
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity (transactions, conditional deletes) rather than
// external locking. See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Repository operations - the write and read paths
	Repository

	// Maintenance operations - retention enforcement
	Maintenance
}

// Repository provides the write and read paths.
type Repository interface {
	// Insert persists msg and one inbox entry per address in recipients,
	// atomically. Recipients must already be normalized and unique; an empty
	// slice persists the message with no entries. The store assigns the
	// message ID and the entry IDs. Entry CreatedAt equals msg.CreatedAt.
	//
	// Returns the new message ID.
	Insert(ctx context.Context, msg Message, recipients []string) (string, error)

	// ListByAddress returns the visible entries for address joined with their
	// messages. An entry is visible when its message exists and
	// ExpiresAt is after now. Results are ordered newest first, ties broken
	// by entry ID ascending. Returns an empty, non-nil slice when nothing
	// matches.
	ListByAddress(ctx context.Context, address string, now time.Time) ([]Summary, error)

	// GetByEntryID returns one visible entry joined with its message.
	// Returns ErrNotFound if the entry doesn't exist, its message doesn't
	// exist or the message has expired.
	GetByEntryID(ctx context.Context, entryID string, now time.Time) (*Detail, error)

	// DeleteEntry removes exactly one inbox entry. It never touches the
	// message or other entries. Returns false if no such entry existed.
	DeleteEntry(ctx context.Context, entryID string) (bool, error)
}

// Maintenance provides operations for background retention tasks.
// These operations are designed to be called concurrently from multiple
// service instances without coordination.
type Maintenance interface {
	// DeleteExpired atomically deletes every message with ExpiresAt <= now.
	// Entries are left in place for DeleteOrphans.
	//
	// Returns the number of messages deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteOrphans deletes inbox entries created at or before cutoff whose
	// message no longer exists. Entries newer than cutoff are skipped so an
	// in-flight insert whose message is not yet visible is never reclaimed.
	//
	// Returns the number of entries deleted.
	DeleteOrphans(ctx context.Context, cutoff time.Time) (int64, error)
}
