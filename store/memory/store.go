// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/dropmail/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
//
// Insert holds the write lock for the whole message plus entries, so readers
// never see a partial delivery. Reads take only the read lock.
type Store struct {
	mu        sync.RWMutex
	messages  map[string]store.Message
	entries   map[string]store.InboxEntry
	byAddress map[string]map[string]struct{} // address -> entry IDs
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		messages:  make(map[string]store.Message),
		entries:   make(map[string]store.InboxEntry),
		byAddress: make(map[string]map[string]struct{}),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected. Data is kept, so a store can be
// reconnected in tests.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) isConnected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

// Len returns the number of stored messages and inbox entries.
func (s *Store) Len() (messages, entries int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages), len(s.entries)
}

// =============================================================================
// Maintenance Operations
// =============================================================================

// DeleteExpired atomically deletes every message with ExpiresAt <= now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, m := range s.messages {
		if m.Expired(now) {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteOrphans deletes entries created at or before cutoff whose message is gone.
func (s *Store) DeleteOrphans(ctx context.Context, cutoff time.Time) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, e := range s.entries {
		if e.CreatedAt.After(cutoff) {
			continue
		}
		if _, ok := s.messages[e.MessageID]; ok {
			continue
		}
		s.removeEntryLocked(e)
		deleted++
	}
	return deleted, nil
}

// removeEntryLocked drops an entry and its address index slot. Caller holds mu.
func (s *Store) removeEntryLocked(e store.InboxEntry) {
	delete(s.entries, e.ID)
	if ids, ok := s.byAddress[e.Address]; ok {
		delete(ids, e.ID)
		if len(ids) == 0 {
			delete(s.byAddress, e.Address)
		}
	}
}

// Compile-time check
var _ store.Store = (*Store)(nil)
