package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/rbaliyan/dropmail/store"
)

// Insert stores msg and one entry per recipient in a single critical section.
func (s *Store) Insert(ctx context.Context, msg store.Message, recipients []string) (string, error) {
	if !s.isConnected() {
		return "", store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg.ID = uuid.New().String()
	msg.From = append([]string(nil), msg.From...)
	msg.To = append([]string(nil), msg.To...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = msg
	for _, addr := range recipients {
		e := store.InboxEntry{
			ID:        uuid.New().String(),
			MessageID: msg.ID,
			Address:   addr,
			CreatedAt: msg.CreatedAt,
		}
		s.entries[e.ID] = e
		ids, ok := s.byAddress[addr]
		if !ok {
			ids = make(map[string]struct{})
			s.byAddress[addr] = ids
		}
		ids[e.ID] = struct{}{}
	}
	return msg.ID, nil
}

// DeleteEntry removes one inbox entry. The message is left untouched.
func (s *Store) DeleteEntry(ctx context.Context, entryID string) (bool, error) {
	if !s.isConnected() {
		return false, store.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok {
		return false, nil
	}
	s.removeEntryLocked(e)
	return true, nil
}
