package consumer

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy wraps an operation with retries.
type RetryPolicy interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type nopRetry struct{}

func (nopRetry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// SimpleRetry retries an operation using exponential backoff.
//
// Every error is retried unless Retryable is set and returns false for it.
type SimpleRetry struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool

	Retryable func(error) bool
}

// DefaultStoreRetry bounds retries of a whole selector cycle. Repeating a
// cycle is safe: nothing is handed off until its delete has succeeded.
var DefaultStoreRetry = SimpleRetry{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: true}

// DefaultSinkRetry bounds retries of one sink write.
var DefaultSinkRetry = SimpleRetry{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: true, Retryable: isTransientSinkError}

func (r SimpleRetry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	base := r.BaseDelay
	max := r.MaxDelay
	noSleep := base <= 0 && max <= 0
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if max <= 0 {
		max = 2 * time.Second
	}
	if max < base {
		max = base
	}

	var last error
	delay := base

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(last) {
			return last
		}
		if i == attempts-1 || noSleep {
			continue
		}

		d := delay
		if r.Jitter {
			j := 0.8 + rand.Float64()*0.4
			d = time.Duration(float64(d) * j)
		}
		if d > max {
			d = max
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > max {
			delay = max
		}
	}

	return last
}
