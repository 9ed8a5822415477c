// Package retry implements the bounded, fixed-delay retry discipline shared by
// every outbound call: the HTTP request client and the log store's
// read-append-write loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries = 3
	DefaultDelay      = time.Second
)

// ErrExhaustedRetries is matched by errors.Is on every *ExhaustedError.
var ErrExhaustedRetries = errors.New("retry: exhausted retries")

// ExhaustedError is returned when the last permitted attempt still failed with
// a retryable error. Err is that last error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("retry: exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

// Policy is one initial attempt plus up to MaxRetries retries, separated by a
// fixed Delay. There is no jitter and no exponential growth.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries nothing.
	Retryable func(error) bool
}

// DefaultPolicy returns the 3 retries / 1s policy with the given predicate.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Delay: DefaultDelay, Retryable: retryable}
}

// WithRetryable returns a copy of p using the given predicate.
func (p Policy) WithRetryable(retryable func(error) bool) Policy {
	p.Retryable = retryable
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(maxRetries)),
		ctx,
	)

	var (
		attempts  int
		permanent bool
		lastErr   error
	)
	err := backoff.RetryNotifyWithTimer(func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}, b, nil, newTimer())

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("retry: wait interrupted: %w", err)
	default:
		return &ExhaustedError{Attempts: attempts, Err: lastErr}
	}
}

// newTimer is swapped in tests. A nil timer makes backoff use a real one.
var newTimer = func() backoff.Timer { return nil }
