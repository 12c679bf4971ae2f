package dropmail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/event/v3/transport/channel"

	"github.com/rbaliyan/dropmail/store/memory"
)

// fakeClock is a settable service clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// setupTestService returns a connected service over a memory store with the
// reaper and sweep-on-insert disabled.
func setupTestService(t *testing.T, opts ...Option) (Service, *memory.Store, *fakeClock) {
	t.Helper()

	st := memory.New()
	clock := newFakeClock()
	base := []Option{
		WithStore(st),
		WithClock(clock.Now),
		WithLogger(quietLogger()),
		WithSweepInterval(0),
		WithSweepProbability(0),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	ctx := context.Background()
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })

	return svc, st, clock
}

func testEmail(subject string, to ...string) Email {
	e := Email{
		Subject: subject,
		From:    []Address{{Address: "sender@example.com", Name: "Sender"}},
		Text:    "text of " + subject,
		HTML:    "<p>" + subject + "</p>",
	}
	for _, addr := range to {
		e.To = append(e.To, Address{Address: addr})
	}
	return e
}

func mustInsert(t *testing.T, svc Service, e Email) string {
	t.Helper()
	id, err := svc.InsertEmail(context.Background(), e)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	return id
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Errorf("expected ErrStoreRequired, got %v", err)
		}
	})

	t.Run("creates service with store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc == nil {
			t.Fatal("expected service to be created")
		}
		if svc.IsConnected() {
			t.Error("expected new service to be disconnected")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(WithStore(memory.New()), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	t.Run("operations fail before connect", func(t *testing.T) {
		if _, err := svc.InsertEmail(ctx, testEmail("hi", "a@x.test")); !errors.Is(err, ErrNotConnected) {
			t.Errorf("insert: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.GetEmailsForAddress(ctx, "a@x.test"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("list: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.GetInboxByID(ctx, "id"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("get: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.DeleteInbox(ctx, "id"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("delete: expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.Sweep(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("sweep: expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("connect", func(t *testing.T) {
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !svc.IsConnected() {
			t.Error("expected service to be connected")
		}
		if svc.Events() == nil {
			t.Error("expected events after connect")
		}
	})

	t.Run("connect twice", func(t *testing.T) {
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("close", func(t *testing.T) {
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if svc.IsConnected() {
			t.Error("expected service to be disconnected")
		}
	})

	t.Run("close twice is a no-op", func(t *testing.T) {
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close returned error: %v", err)
		}
	})
}

func TestInsertEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("fans out to each recipient", func(t *testing.T) {
		svc, st, _ := setupTestService(t)

		id := mustInsert(t, svc, testEmail("Hi", "a@x.test", "b@x.test"))
		if id == "" {
			t.Fatal("expected message id")
		}

		messages, entries := st.Len()
		if messages != 1 || entries != 2 {
			t.Errorf("expected 1 message and 2 entries, got %d and %d", messages, entries)
		}

		for _, addr := range []string{"a@x.test", "b@x.test"} {
			list, err := svc.GetEmailsForAddress(ctx, addr)
			if err != nil {
				t.Fatalf("list %s: %v", addr, err)
			}
			if len(list) != 1 {
				t.Fatalf("list %s: expected 1 summary, got %d", addr, len(list))
			}
			if list[0].Subject != "Hi" || list[0].MessageID != id {
				t.Errorf("list %s: unexpected summary %+v", addr, list[0])
			}
		}

		list, err := svc.GetEmailsForAddress(ctx, "c@x.test")
		if err != nil {
			t.Fatalf("list c: %v", err)
		}
		if list == nil || len(list) != 0 {
			t.Errorf("expected empty non-nil list, got %#v", list)
		}
	})

	t.Run("duplicate and mixed-case recipients collapse", func(t *testing.T) {
		svc, st, _ := setupTestService(t)

		mustInsert(t, svc, testEmail("Hi", "A@X.test", "a@x.test", " a@x.TEST ", "b@x.test"))

		if _, entries := st.Len(); entries != 2 {
			t.Errorf("expected 2 entries, got %d", entries)
		}
		list, _ := svc.GetEmailsForAddress(ctx, "A@x.Test")
		if len(list) != 1 {
			t.Errorf("expected case-insensitive lookup to find 1 entry, got %d", len(list))
		}
	})

	t.Run("summary carries sender and all recipients", func(t *testing.T) {
		svc, _, clock := setupTestService(t)

		mustInsert(t, svc, testEmail("Hi", "a@x.test", "b@x.test"))
		list, _ := svc.GetEmailsForAddress(ctx, "b@x.test")
		if len(list) != 1 {
			t.Fatalf("expected 1 summary, got %d", len(list))
		}
		s := list[0]
		if s.From != "sender@example.com" {
			t.Errorf("expected first sender, got %q", s.From)
		}
		if len(s.To) != 2 || s.To[0] != "a@x.test" || s.To[1] != "b@x.test" {
			t.Errorf("unexpected To %v", s.To)
		}
		if !s.CreatedAt.Equal(clock.Now()) {
			t.Errorf("expected createdAt %v, got %v", clock.Now(), s.CreatedAt)
		}
		if !s.ExpiresAt.Equal(clock.Now().Add(DefaultRetention)) {
			t.Errorf("expected expiresAt %v, got %v", clock.Now().Add(DefaultRetention), s.ExpiresAt)
		}
	})

	t.Run("empty To list is rejected before storage", func(t *testing.T) {
		svc, st, _ := setupTestService(t)

		_, err := svc.InsertEmail(ctx, testEmail("Hi"))
		if !errors.Is(err, ErrEmptyRecipients) || !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("expected ErrEmptyRecipients, got %v", err)
		}
		if messages, _ := st.Len(); messages != 0 {
			t.Errorf("expected nothing stored, got %d messages", messages)
		}
	})

	t.Run("all blank recipients store an unreachable message", func(t *testing.T) {
		svc, st, _ := setupTestService(t)

		id, err := svc.InsertEmail(ctx, testEmail("Hi", "", "   "))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id == "" {
			t.Error("expected message id")
		}
		messages, entries := st.Len()
		if messages != 1 || entries != 0 {
			t.Errorf("expected 1 message and 0 entries, got %d and %d", messages, entries)
		}
	})

	t.Run("limits are enforced", func(t *testing.T) {
		svc, _, _ := setupTestService(t, WithMaxRecipients(1), WithMaxSubjectLength(5), WithMaxBodySize(8))

		if _, err := svc.InsertEmail(ctx, testEmail("Hi", "a@x.test", "b@x.test")); !errors.Is(err, ErrTooManyRecipients) {
			t.Errorf("expected ErrTooManyRecipients, got %v", err)
		}
		if _, err := svc.InsertEmail(ctx, testEmail("Too long", "a@x.test")); !errors.Is(err, ErrSubjectTooLong) {
			t.Errorf("expected ErrSubjectTooLong, got %v", err)
		}
		if _, err := svc.InsertEmail(ctx, testEmail("Hi", "a@x.test")); !errors.Is(err, ErrBodyTooLarge) {
			t.Errorf("expected ErrBodyTooLarge, got %v", err)
		}
	})
}

func TestGetEmailsForAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("newest first", func(t *testing.T) {
		svc, _, clock := setupTestService(t)

		for _, subject := range []string{"100", "200", "300"} {
			mustInsert(t, svc, testEmail(subject, "a@x.test"))
			clock.Advance(100 * time.Second)
		}

		list, err := svc.GetEmailsForAddress(ctx, "a@x.test")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		var got []string
		for _, s := range list {
			got = append(got, s.Subject)
		}
		if len(got) != 3 || got[0] != "300" || got[1] != "200" || got[2] != "100" {
			t.Errorf("expected [300 200 100], got %v", got)
		}
	})

	t.Run("same timestamp orders by entry id", func(t *testing.T) {
		svc, _, _ := setupTestService(t)

		for range 5 {
			mustInsert(t, svc, testEmail("same", "a@x.test"))
		}
		first, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
		second, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
		for i := range first {
			if i > 0 && first[i-1].EntryID > first[i].EntryID {
				t.Errorf("entry ids out of order at %d", i)
			}
			if first[i].EntryID != second[i].EntryID {
				t.Errorf("order not stable at %d", i)
			}
		}
	})

	t.Run("expired entries disappear without a sweep", func(t *testing.T) {
		svc, st, clock := setupTestService(t)

		mustInsert(t, svc, testEmail("old", "a@x.test"))

		clock.Advance(DefaultRetention - time.Second)
		list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
		if len(list) != 1 {
			t.Fatalf("expected entry to be visible before expiry, got %d", len(list))
		}

		clock.Advance(2 * time.Second)
		list, _ = svc.GetEmailsForAddress(ctx, "a@x.test")
		if len(list) != 0 {
			t.Errorf("expected expired entry to be hidden, got %d", len(list))
		}
		if messages, _ := st.Len(); messages != 1 {
			t.Errorf("expected message to remain stored until swept, got %d", messages)
		}
	})

	t.Run("expiry boundary is exclusive", func(t *testing.T) {
		svc, _, clock := setupTestService(t, WithRetention(time.Hour))

		mustInsert(t, svc, testEmail("edge", "a@x.test"))
		clock.Advance(time.Hour)

		list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
		if len(list) != 0 {
			t.Errorf("expected entry expiring exactly now to be hidden, got %d", len(list))
		}
	})

	t.Run("max list results", func(t *testing.T) {
		svc, _, clock := setupTestService(t, WithMaxListResults(2))

		for _, subject := range []string{"1", "2", "3"} {
			mustInsert(t, svc, testEmail(subject, "a@x.test"))
			clock.Advance(time.Second)
		}
		list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
		if len(list) != 2 || list[0].Subject != "3" {
			t.Errorf("expected the 2 newest, got %+v", list)
		}
	})

	t.Run("blank address", func(t *testing.T) {
		svc, _, _ := setupTestService(t)

		list, err := svc.GetEmailsForAddress(ctx, "  ")
		if err != nil || list == nil || len(list) != 0 {
			t.Errorf("expected empty list, got %v, %v", list, err)
		}
	})
}

func TestGetInboxByID(t *testing.T) {
	ctx := context.Background()

	t.Run("returns bodies", func(t *testing.T) {
		svc, _, _ := setupTestService(t)

		mustInsert(t, svc, testEmail("Hi", "a@x.test"))
		list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")

		detail, err := svc.GetInboxByID(ctx, list[0].EntryID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if detail.Subject != "Hi" || detail.Text != "text of Hi" || detail.HTML != "<p>Hi</p>" {
			t.Errorf("unexpected detail %+v", detail)
		}
		if detail.EntryID != list[0].EntryID {
			t.Errorf("expected entry id %q, got %q", list[0].EntryID, detail.EntryID)
		}
	})

	t.Run("missing and expired are indistinguishable", func(t *testing.T) {
		svc, _, clock := setupTestService(t)

		mustInsert(t, svc, testEmail("Hi", "a@x.test"))
		list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
		clock.Advance(DefaultRetention + time.Second)

		_, expiredErr := svc.GetInboxByID(ctx, list[0].EntryID)
		_, missingErr := svc.GetInboxByID(ctx, "does-not-exist")
		_, emptyErr := svc.GetInboxByID(ctx, "")

		for name, err := range map[string]error{"expired": expiredErr, "missing": missingErr, "empty": emptyErr} {
			if err != ErrNotFound {
				t.Errorf("%s: expected ErrNotFound, got %v", name, err)
			}
		}
	})
}

func TestDeleteInbox(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes one entry and keeps the rest", func(t *testing.T) {
		svc, st, _ := setupTestService(t)

		mustInsert(t, svc, testEmail("Hi", "a@x.test", "b@x.test"))
		a, _ := svc.GetEmailsForAddress(ctx, "a@x.test")

		deleted, err := svc.DeleteInbox(ctx, a[0].EntryID)
		if err != nil || !deleted {
			t.Fatalf("expected delete to succeed, got %v, %v", deleted, err)
		}

		if _, err := svc.GetInboxByID(ctx, a[0].EntryID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		b, _ := svc.GetEmailsForAddress(ctx, "b@x.test")
		if len(b) != 1 {
			t.Errorf("expected other recipient to keep entry, got %d", len(b))
		}
		if messages, _ := st.Len(); messages != 1 {
			t.Errorf("expected shared message to remain, got %d", messages)
		}
	})

	t.Run("absent entry", func(t *testing.T) {
		svc, _, _ := setupTestService(t)

		for _, id := range []string{"nope", ""} {
			deleted, err := svc.DeleteInbox(ctx, id)
			if err != nil || deleted {
				t.Errorf("DeleteInbox(%q): expected false, nil; got %v, %v", id, deleted, err)
			}
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		svc, _, _ := setupTestService(t)

		mustInsert(t, svc, testEmail("Hi", "a@x.test"))
		list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")

		if deleted, _ := svc.DeleteInbox(ctx, list[0].EntryID); !deleted {
			t.Fatal("expected first delete to report true")
		}
		if deleted, _ := svc.DeleteInbox(ctx, list[0].EntryID); deleted {
			t.Error("expected second delete to report false")
		}
	})
}

// recordingHook records insert hook calls and can reject emails.
type recordingHook struct {
	mu       sync.Mutex
	inited   bool
	closed   bool
	inserted []string
	reject   error
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) Init(context.Context) error {
	h.inited = true
	return nil
}

func (h *recordingHook) Close(context.Context) error {
	h.closed = true
	return nil
}

func (h *recordingHook) BeforeInsert(_ context.Context, e *Email) error {
	if h.reject != nil {
		return h.reject
	}
	e.Subject = "[hooked] " + e.Subject
	return nil
}

func (h *recordingHook) AfterInsert(_ context.Context, messageID string, _ Email) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inserted = append(h.inserted, messageID)
	return nil
}

func TestInsertHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("hooks run around insert", func(t *testing.T) {
		hook := &recordingHook{}
		svc, _, _ := setupTestService(t, WithPlugin(hook))

		if !hook.inited {
			t.Error("expected plugin to be initialized on connect")
		}

		id := mustInsert(t, svc, testEmail("Hi", "a@x.test"))
		list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
		if len(list) != 1 || list[0].Subject != "[hooked] Hi" {
			t.Errorf("expected rewritten subject, got %+v", list)
		}
		if len(hook.inserted) != 1 || hook.inserted[0] != id {
			t.Errorf("expected AfterInsert with %q, got %v", id, hook.inserted)
		}

		svc.Close(ctx)
		if !hook.closed {
			t.Error("expected plugin to be closed")
		}
	})

	t.Run("BeforeInsert can reject", func(t *testing.T) {
		spam := errors.New("spam")
		hook := &recordingHook{reject: spam}
		svc, st, _ := setupTestService(t, WithPlugin(hook))

		_, err := svc.InsertEmail(ctx, testEmail("Buy now", "a@x.test"))
		var pe *PluginError
		if !errors.As(err, &pe) || !errors.Is(err, spam) {
			t.Errorf("expected PluginError wrapping spam, got %v", err)
		}
		if messages, _ := st.Len(); messages != 0 {
			t.Errorf("expected nothing stored, got %d", messages)
		}
	})
}

func TestEventsWithTransport(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := setupTestService(t,
		WithEventTransport(channel.New()),
		WithRetention(time.Minute),
	)

	if svc.Events() == nil {
		t.Fatal("expected per-service events")
	}

	mustInsert(t, svc, testEmail("Hi", "a@x.test"))
	list, _ := svc.GetEmailsForAddress(ctx, "a@x.test")
	if _, err := svc.DeleteInbox(ctx, list[0].EntryID); err != nil {
		t.Errorf("delete with events failed: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := svc.Sweep(ctx); err != nil {
		t.Errorf("sweep with events failed: %v", err)
	}
}
