// Package retry runs operations with exponential backoff.
//
// It is meant for idempotent operations such as connecting to a backend or
// running a sweep. Do not wrap dropmail inserts: a retried insert whose first
// attempt actually committed stores the email twice.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// Attempts is the total number of calls, including the first (default: 4).
	Attempts int

	// Initial is the delay before the second attempt (default: 100ms).
	Initial time.Duration

	// Max caps the delay between attempts (default: 30s).
	Max time.Duration

	// Multiplier grows the delay after each attempt (default: 2.0).
	Multiplier float64

	// Jitter randomizes each delay by +/- this fraction (default: 0.1).
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// If nil, IsRetryable is used.
	Retryable func(error) bool

	// OnRetry, if set, is called before sleeping with the attempt that just
	// failed (starting at 1), its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns a Policy with sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   4,
		Initial:    100 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
		Retryable:  IsRetryable,
	}
}

// Reasons a retry loop gave up.
var (
	// ErrExhausted is returned when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrPermanent is returned when an attempt failed with a non-retryable error.
	ErrPermanent = errors.New("retry: permanent error")

	// ErrCanceled is returned when the context ended between attempts.
	ErrCanceled = errors.New("retry: canceled")
)

// Error describes a failed retry loop. It matches both the reason
// (ErrExhausted, ErrPermanent or ErrCanceled) and the last attempt's error.
type Error struct {
	Reason   error // Why the loop stopped
	Last     error // Error from the last attempt
	Attempts int   // Attempts made
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Reason, e.Attempts, e.Last)
}

func (e *Error) Unwrap() []error {
	return []error{e.Reason, e.Last}
}

// Do calls fn until it succeeds, fails permanently, the policy's attempts
// run out, or ctx ends.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalize()

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &Error{Reason: ErrCanceled, Last: last, Attempts: attempt - 1}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err

		if !p.Retryable(err) {
			return &Error{Reason: ErrPermanent, Last: err, Attempts: attempt}
		}
		if attempt >= p.Attempts {
			return &Error{Reason: ErrExhausted, Last: err, Attempts: attempt}
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Error{Reason: ErrCanceled, Last: err, Attempts: attempt}
		case <-timer.C:
		}
	}
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Backoff returns the delay after the given failed attempt (starting at 1).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalize()
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 {
		spread := d * p.Jitter
		d += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(d)
}

// normalize fills in zero values with defaults.
func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	return p
}

// IsRetryable reports whether err is worth retrying. Context cancellation and
// errors marked with Permanent are not; errors exposing a Retryable() bool
// method decide for themselves; anything else is retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }
