package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/rbaliyan/dropmail/store"
)

// Insert writes the message and its inbox entries in one transaction.
func (s *Store) Insert(ctx context.Context, msg store.Message, recipients []string) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	from, err := encodeList(msg.From)
	if err != nil {
		return "", fmt.Errorf("marshal from: %w", err)
	}
	to, err := encodeList(msg.To)
	if err != nil {
		return "", fmt.Errorf("marshal to: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.conn().BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	createdAt := millis(msg.CreatedAt)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, subject, from_addrs, to_addrs, text_body, html_body, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, msg.Subject, from, to, msg.Text, msg.HTML, createdAt, millis(msg.ExpiresAt))
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	for _, addr := range recipients {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_entries (id, message_id, address, created_at)
			VALUES (?, ?, ?, ?)
		`, uuid.New().String(), id, addr, createdAt)
		if err != nil {
			return "", fmt.Errorf("insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	return id, nil
}

// DeleteEntry removes one inbox entry. The message row is left in place.
func (s *Store) DeleteEntry(ctx context.Context, entryID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.conn().ExecContext(ctx, `DELETE FROM inbox_entries WHERE id = ?`, entryID)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
