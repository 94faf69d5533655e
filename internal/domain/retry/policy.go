// Package retry runs an operation again after failures the caller considers transient.
package retry

import (
	"context"
	"time"
)

// Backoff selects how the wait grows between attempts.
type Backoff int

const (
	// BackoffFixed waits Delay before every retry.
	BackoffFixed Backoff = iota
	// BackoffLinear waits attempt × Delay.
	BackoffLinear
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	Delay    time.Duration
	Backoff  Backoff

	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

// Linear makes at most attempts calls, waiting attempt × delay between them.
func Linear(attempts int, delay time.Duration, retryable func(error) bool) Policy {
	return Policy{Attempts: max(attempts, 1), Delay: delay, Backoff: BackoffLinear, Retryable: retryable}
}

// Fixed makes at most attempts calls, waiting delay between them.
func Fixed(attempts int, delay time.Duration, retryable func(error) bool) Policy {
	return Policy{Attempts: max(attempts, 1), Delay: delay, Backoff: BackoffFixed, Retryable: retryable}
}

// Wait is the pause before retry number attempt (1-based).
func (p Policy) Wait(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if p.Backoff == BackoffLinear {
		return p.Delay * time.Duration(attempt)
	}
	return p.Delay
}

func (p Policy) again(attempt int, err error) bool {
	if attempt >= p.Attempts {
		return false
	}
	return p.Retryable == nil || p.Retryable(err)
}

// Do calls fn until it succeeds, the policy gives up or ctx ends, and returns the last result.
// onRetry, when set, is called before each wait with the failed attempt (1-based) and its error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error), onRetry ...func(attempt int, err error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, attempt)
		if err == nil || !p.again(attempt, err) {
			return result, err
		}

		for _, hook := range onRetry {
			hook(attempt, err)
		}

		if wait := p.Wait(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
