package dropmail

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for dropmail events.
const (
	EventNameEmailReceived = "dropmail.email.received"
	EventNameInboxDeleted  = "dropmail.inbox.deleted"
	EventNameMailSwept     = "dropmail.mail.swept"
)

// EmailReceivedEvent is published after an email and its inbox entries are stored.
type EmailReceivedEvent struct {
	MessageID  string    `json:"message_id"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// InboxDeletedEvent is published when an inbox entry is explicitly deleted.
// Entries removed by the reaper are reported through MailSweptEvent instead.
type InboxDeletedEvent struct {
	EntryID   string    `json:"entry_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// MailSweptEvent is published when a sweep deleted anything.
type MailSweptEvent struct {
	ExpiredMessages int64     `json:"expired_messages"`
	OrphanedEntries int64     `json:"orphaned_entries"`
	Trigger         string    `json:"trigger"`
	SweptAt         time.Time `json:"swept_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().EmailReceived.Subscribe(ctx, handler)
//	svc.Events().InboxDeleted.Subscribe(ctx, handler)
//	svc.Events().MailSwept.Subscribe(ctx, handler)
type ServiceEvents struct {
	// EmailReceived is published when an email is inserted.
	EmailReceived event.Event[EmailReceivedEvent]

	// InboxDeleted is published when DeleteInbox removed an entry.
	InboxDeleted event.Event[InboxDeletedEvent]

	// MailSwept is published when the reaper reclaimed storage.
	MailSwept event.Event[MailSweptEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		EmailReceived: event.New[EmailReceivedEvent](namePrefix + "." + EventNameEmailReceived),
		InboxDeleted:  event.New[InboxDeletedEvent](namePrefix + "." + EventNameInboxDeleted),
		MailSwept:     event.New[MailSweptEvent](namePrefix + "." + EventNameMailSwept),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.EmailReceived); err != nil {
		return fmt.Errorf("register EmailReceived: %w", err)
	}
	if err := event.Register(ctx, bus, events.InboxDeleted); err != nil {
		return fmt.Errorf("register InboxDeleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailSwept); err != nil {
		return fmt.Errorf("register MailSwept: %w", err)
	}
	return nil
}

// publish sends an event and applies the service's failure policy.
// With WithEventErrorsFatal the failure is returned as *EventPublishError;
// otherwise it is handed to the failure handler and nil is returned.
func publish[T any](ctx context.Context, s *service, ev event.Event[T], name, id string, data T) error {
	if err := ev.Publish(ctx, data); err != nil {
		if s.opts.eventErrorsFatal {
			return &EventPublishError{Event: name, ID: id, Err: err}
		}
		s.opts.safeEventPublishFailure(name, err)
	}
	return nil
}
