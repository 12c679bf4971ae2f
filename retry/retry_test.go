package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 5 * time.Millisecond}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds first time", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Errorf("expected 1 call and no error, got %d, %v", calls, err)
		}
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastPolicy(5), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("expected 3 calls and no error, got %d, %v", calls, err)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		cause := errors.New("still down")
		calls := 0
		err := Do(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			return cause
		})
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
		if !errors.Is(err, ErrExhausted) || !errors.Is(err, cause) {
			t.Errorf("expected ErrExhausted wrapping cause, got %v", err)
		}
		var re *Error
		if !errors.As(err, &re) || re.Attempts != 3 {
			t.Errorf("expected Error with 3 attempts, got %v", err)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		cause := errors.New("bad credentials")
		calls := 0
		err := Do(ctx, fastPolicy(5), func(context.Context) error {
			calls++
			return Permanent(cause)
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		if !errors.Is(err, ErrPermanent) || !errors.Is(err, cause) {
			t.Errorf("expected ErrPermanent wrapping cause, got %v", err)
		}
	})

	t.Run("honours custom Retryable", func(t *testing.T) {
		calls := 0
		p := fastPolicy(5)
		p.Retryable = func(error) bool { return false }
		_ = Do(ctx, p, func(context.Context) error {
			calls++
			return errors.New("x")
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("stops when context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{Attempts: 10, Initial: time.Hour}
		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := Do(ctx, p, func(context.Context) error {
			calls++
			return errors.New("down")
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("expected ErrCanceled, got %v", err)
		}
	})

	t.Run("already canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Do(ctx, fastPolicy(3), func(context.Context) error {
			t.Error("fn should not be called")
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("OnRetry sees each failed attempt", func(t *testing.T) {
		var seen []int
		p := fastPolicy(3)
		p.OnRetry = func(attempt int, err error, delay time.Duration) {
			seen = append(seen, attempt)
		}
		_ = Do(ctx, p, func(context.Context) error { return errors.New("x") })
		if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
			t.Errorf("expected OnRetry for attempts [1 2], got %v", seen)
		}
	})
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "partial", errors.New("x")
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("expected ok, got %q, %v", v, err)
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	p.Jitter = 0.5
	for range 100 {
		d := p.Backoff(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered backoff %v out of range", d)
		}
	}
}

type flaky struct{ retry bool }

func (f flaky) Error() string   { return "flaky" }
func (f flaky) Retryable() bool { return f.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"self-described retryable", flaky{retry: true}, true},
		{"self-described permanent", flaky{retry: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
