package dropmail

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/dropmail/store"
)

// InsertEmail stores e with one inbox entry per unique recipient.
//
// The email expires retention after the service clock's current time.
// A failed insert may be retried when IsRetryableError reports so; a retry
// after an ambiguous failure can store the email twice.
func (s *service) InsertEmail(ctx context.Context, e Email) (string, error) {
	if err := s.checkConnected(); err != nil {
		return "", err
	}

	ctx, endSpan := s.otel.startSpan(ctx, "dropmail.insert",
		attribute.Int("recipient_count", len(e.To)),
	)
	start := time.Now()
	var recipients []string
	var insertErr error
	defer func() {
		endSpan(insertErr)
		s.otel.recordInsert(ctx, time.Since(start), len(recipients), insertErr)
	}()

	if err := s.plugins.beforeInsert(ctx, &e); err != nil {
		insertErr = err
		return "", insertErr
	}

	if err := ValidateEmail(e, s.opts.getLimits()); err != nil {
		insertErr = err
		return "", insertErr
	}

	if err := s.insertSem.Acquire(ctx, 1); err != nil {
		insertErr = err
		return "", insertErr
	}
	defer s.insertSem.Release(1)

	// Close may have started while we waited for a slot.
	if err := s.checkConnected(); err != nil {
		insertErr = err
		return "", insertErr
	}

	recipients = Recipients(e.To)
	createdAt := s.opts.now()
	msg := store.Message{
		Subject:   e.Subject,
		From:      Senders(e.From),
		To:        recipients,
		Text:      e.Text,
		HTML:      e.HTML,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(s.opts.retention),
	}

	messageID, err := s.store.Insert(ctx, msg, recipients)
	if err != nil {
		insertErr = storageErr("insert", err)
		return "", insertErr
	}

	if len(recipients) == 0 {
		s.logger.Warn("stored email without reachable recipients", "message_id", messageID)
	} else {
		s.logger.Debug("stored email", "message_id", messageID, "recipients", len(recipients))
	}

	if err := publish(ctx, s, s.events.EmailReceived, "EmailReceived", messageID, EmailReceivedEvent{
		MessageID:  messageID,
		Recipients: recipients,
		Subject:    e.Subject,
		ReceivedAt: msg.CreatedAt,
		ExpiresAt:  msg.ExpiresAt,
	}); err != nil {
		// The email is stored; report the id with the error.
		insertErr = err
		return messageID, insertErr
	}

	if err := s.plugins.afterInsert(ctx, messageID, e); err != nil {
		insertErr = err
		return messageID, insertErr
	}

	s.maybeSweep()

	return messageID, nil
}

// DeleteInbox deletes exactly one inbox entry.
func (s *service) DeleteInbox(ctx context.Context, entryID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, endSpan := s.otel.startSpan(ctx, "dropmail.delete",
		attribute.String("entry_id", entryID),
	)
	start := time.Now()
	var deleted bool
	var deleteErr error
	defer func() {
		endSpan(deleteErr)
		s.otel.recordDelete(ctx, time.Since(start), deleted, deleteErr)
	}()

	if entryID == "" {
		return false, nil
	}

	deleted, deleteErr = s.store.DeleteEntry(ctx, entryID)
	if deleteErr != nil {
		deleteErr = storageErr("delete", deleteErr)
		return false, deleteErr
	}
	if !deleted {
		return false, nil
	}

	s.logger.Debug("deleted inbox entry", "entry_id", entryID)

	if err := publish(ctx, s, s.events.InboxDeleted, "InboxDeleted", entryID, InboxDeletedEvent{
		EntryID:   entryID,
		DeletedAt: s.opts.now(),
	}); err != nil {
		deleteErr = err
		return true, deleteErr
	}

	return true, nil
}
