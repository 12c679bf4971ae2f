package memory

import (
	"context"
	"time"

	"github.com/rbaliyan/dropmail/store"
)

// ListByAddress returns the visible entries for address, newest first.
func (s *Store) ListByAddress(ctx context.Context, address string, now time.Time) ([]store.Summary, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAddress[address]
	out := make([]store.Summary, 0, len(ids))
	for id := range ids {
		e := s.entries[id]
		m, ok := s.messages[e.MessageID]
		if !ok || m.Expired(now) {
			continue
		}
		out = append(out, store.NewSummary(e, m))
	}
	store.SortSummaries(out)
	return out, nil
}

// GetByEntryID returns one visible entry with its message bodies.
func (s *Store) GetByEntryID(ctx context.Context, entryID string, now time.Time) (*store.Detail, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	m, ok := s.messages[e.MessageID]
	if !ok || m.Expired(now) {
		return nil, store.ErrNotFound
	}
	return store.NewDetail(e, m), nil
}
