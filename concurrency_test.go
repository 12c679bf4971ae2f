package dropmail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := setupTestService(t, WithMaxConcurrentInserts(3))

	const numSenders = 10
	const emailsPerSender = 5

	var wg sync.WaitGroup
	errs := make(chan error, numSenders*emailsPerSender)

	for i := 0; i < numSenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < emailsPerSender; j++ {
				e := testEmail(fmt.Sprintf("%d-%d", n, j), "shared@x.test", fmt.Sprintf("user%d@x.test", n))
				if _, err := svc.InsertEmail(ctx, e); err != nil {
					errs <- err
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("insert error: %v", err)
	}

	messages, entries := st.Len()
	if messages != numSenders*emailsPerSender {
		t.Errorf("expected %d messages, got %d", numSenders*emailsPerSender, messages)
	}
	if entries != 2*numSenders*emailsPerSender {
		t.Errorf("expected %d entries, got %d", 2*numSenders*emailsPerSender, entries)
	}

	shared, err := svc.GetEmailsForAddress(ctx, "shared@x.test")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(shared) != numSenders*emailsPerSender {
		t.Errorf("expected %d shared entries, got %d", numSenders*emailsPerSender, len(shared))
	}
}

func TestConcurrentReadsDuringSweep(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := setupTestService(t, WithRetention(time.Hour))

	for i := 0; i < 20; i++ {
		mustInsert(t, svc, testEmail(fmt.Sprintf("old-%d", i), "a@x.test"))
	}
	clock.Advance(2 * time.Hour)
	for i := 0; i < 5; i++ {
		mustInsert(t, svc, testEmail(fmt.Sprintf("new-%d", i), "a@x.test"))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				list, err := svc.GetEmailsForAddress(ctx, "a@x.test")
				if err != nil {
					errs <- err
					return
				}
				if len(list) != 5 {
					errs <- fmt.Errorf("expected 5 visible entries, got %d", len(list))
					return
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Sweep(ctx); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("operation error: %v", err)
	}
}

// blockingHook parks inserts until released.
type blockingHook struct {
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHook) Name() string                { return "blocking" }
func (h *blockingHook) Init(context.Context) error  { return nil }
func (h *blockingHook) Close(context.Context) error { return nil }

func (h *blockingHook) BeforeInsert(context.Context, *Email) error { return nil }

func (h *blockingHook) AfterInsert(context.Context, string, Email) error {
	h.entered <- struct{}{}
	<-h.release
	return nil
}

func TestGracefulShutdown(t *testing.T) {
	ctx := context.Background()
	hook := &blockingHook{entered: make(chan struct{}), release: make(chan struct{})}
	svc, _, _ := setupTestService(t, WithPlugin(hook))

	inserted := make(chan error, 1)
	go func() {
		_, err := svc.InsertEmail(ctx, testEmail("during shutdown", "a@x.test"))
		inserted <- err
	}()
	<-hook.entered

	closed := make(chan error, 1)
	go func() {
		closed <- svc.Close(ctx)
	}()

	select {
	case <-closed:
		t.Fatal("close returned while an insert was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(hook.release)

	if err := <-inserted; err != nil {
		t.Errorf("in-flight insert failed: %v", err)
	}
	if err := <-closed; err != nil {
		t.Errorf("close returned error: %v", err)
	}

	if _, err := svc.InsertEmail(ctx, testEmail("after", "a@x.test")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestShutdownTimeout(t *testing.T) {
	ctx := context.Background()
	hook := &blockingHook{entered: make(chan struct{}), release: make(chan struct{})}
	svc, _, _ := setupTestService(t, WithPlugin(hook), WithShutdownTimeout(time.Second))
	defer close(hook.release)

	go svc.InsertEmail(ctx, testEmail("stuck", "a@x.test"))
	<-hook.entered

	start := time.Now()
	err := svc.Close(ctx)
	if err == nil {
		t.Fatal("expected close to report the shutdown timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("close took %v, expected about 1s", elapsed)
	}
}
