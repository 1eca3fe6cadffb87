package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetry marks an error as transient. Blocking retries the task
// when (and only when) its error wraps ErrRetry.
var ErrRetry = errors.New("retry")

// ErrBudgetExceeded is returned when a bounded Backoff runs out of attempts.
var ErrBudgetExceeded = errors.New("retry budget exceeded")

// Backoff is a (blocking) function returns when to retry.
//
// # Args
//
// - context: context. If context is canceled, Backoff should return ctx.Err().
//
// # Returns
//
// - error: nil if retry, non-nil if not.
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff function that waits for a fixed interval.
var StaticBackoff = func(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff returns a Backoff function that waits with exponential backoff.
//
// For N-th call, it waits for `initialInterval * r^N` or context to be done.
var ExponentialBackoff = func(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			i := float64(interval) * r
			interval = time.Duration(int64(i))
			return nil
		}
	}
}

// Limited bounds a Backoff with a fixed budget of waits.
//
// The first call through Limited never waits, so a budget of N allows
// 1 initial attempt + N retries. When the budget is spent, it returns
// ErrBudgetExceeded.
func Limited(budget int, b Backoff) Backoff {
	first := true
	remain := budget
	return func(ctx context.Context) error {
		if first {
			first = false
			return nil
		}
		if remain <= 0 {
			return fmt.Errorf("%w (budget = %d)", ErrBudgetExceeded, budget)
		}
		remain -= 1
		return b(ctx)
	}
}

// Blocking calls f until it returns nil or non-retry error.
//
// # Args
//
// - ctx: context
//
// - b: backoff function
//
// - f: function to be called. If f returns error wrapping ErrRetry,
// Blocking calls f again after backoff.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f, or by b when it refuses to wait
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	last := *new(T)
	for {
		if err := b(ctx); err != nil {
			return last, err
		}

		var err error
		last, err = f()
		if err == nil {
			return last, nil
		}
		if errors.Is(err, ErrRetry) {
			continue
		}
		return last, err
	}
}
