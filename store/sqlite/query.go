package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/dropmail/store"
)

// joinedRow is an entry joined with its message.
type joinedRow struct {
	EntryID   string `db:"entry_id"`
	MessageID string `db:"message_id"`
	Subject   string `db:"subject"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
	From      string `db:"from_addrs"`
	To        string `db:"to_addrs"`
	Text      string `db:"text_body"`
	HTML      string `db:"html_body"`
}

func (r *joinedRow) summary() (store.Summary, error) {
	from, err := decodeList(r.From)
	if err != nil {
		return store.Summary{}, fmt.Errorf("decode from: %w", err)
	}
	to, err := decodeList(r.To)
	if err != nil {
		return store.Summary{}, fmt.Errorf("decode to: %w", err)
	}
	sum := store.Summary{
		EntryID:   r.EntryID,
		MessageID: r.MessageID,
		Subject:   r.Subject,
		CreatedAt: fromMillis(r.CreatedAt),
		ExpiresAt: fromMillis(r.ExpiresAt),
		To:        to,
	}
	if len(from) > 0 {
		sum.From = from[0]
	}
	return sum, nil
}

// ListByAddress returns the visible entries for address, newest first.
func (s *Store) ListByAddress(ctx context.Context, address string, now time.Time) ([]store.Summary, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []joinedRow
	err := s.conn().SelectContext(ctx, &rows, `
		SELECT e.id AS entry_id, m.id AS message_id, m.subject, m.created_at, m.expires_at,
		       m.from_addrs, m.to_addrs
		FROM inbox_entries e
		JOIN messages m ON m.id = e.message_id
		WHERE e.address = ? AND m.expires_at > ?
		ORDER BY m.created_at DESC, e.id ASC
	`, address, millis(now))
	if err != nil {
		return nil, fmt.Errorf("list by address: %w", err)
	}

	out := make([]store.Summary, 0, len(rows))
	for i := range rows {
		sum, err := rows[i].summary()
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// GetByEntryID returns one visible entry with its message bodies.
func (s *Store) GetByEntryID(ctx context.Context, entryID string, now time.Time) (*store.Detail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row joinedRow
	err := s.conn().GetContext(ctx, &row, `
		SELECT e.id AS entry_id, m.id AS message_id, m.subject, m.created_at, m.expires_at,
		       m.from_addrs, m.to_addrs, m.text_body, m.html_body
		FROM inbox_entries e
		JOIN messages m ON m.id = e.message_id
		WHERE e.id = ? AND m.expires_at > ?
	`, entryID, millis(now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}

	sum, err := row.summary()
	if err != nil {
		return nil, err
	}
	return &store.Detail{Summary: sum, Text: row.Text, HTML: row.HTML}, nil
}
