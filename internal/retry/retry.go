// Package retry implements the with_retry combinator from spec §7: a
// parameterized retry decorator with a pluggable backoff schedule and a
// retryable? predicate, built on a pack-sourced backoff library rather
// than a hand-rolled sleep loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff describes a retry delay schedule.
type Backoff interface {
	next(attempt int) time.Duration
}

// Fixed is a constant delay between attempts.
type Fixed time.Duration

func (f Fixed) next(int) time.Duration { return time.Duration(f) }

// Exponential doubles the delay each attempt starting at Base, capped at Cap.
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

func (e Exponential) next(attempt int) time.Duration {
	d := e.Base
	for range attempt {
		d *= 2
		if d > e.Cap {
			return e.Cap
		}
	}
	if d > e.Cap {
		return e.Cap
	}
	return d
}

// Policy parameterizes with_retry.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable reports whether err should trigger another attempt. A nil
	// Retryable retries every non-nil error.
	Retryable func(err error) bool
}

// permanentError wraps an error the backoff library must not retry.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do runs op under the policy: attempts are serial, the task sleeps
// between attempts (respecting ctx cancellation), and on exhaustion the
// last error is returned. A 4xx-style permanent error, or any error
// Retryable rejects, is surfaced immediately without consuming further
// attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(&permanentError{err: err})
		}
		return v, err
	}

	result, err := backoff.Retry(ctx, wrapped,
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
		backoff.WithBackOff(&scheduleBackoff{schedule: p.Backoff}),
	)
	if err != nil {
		var perm *permanentError
		if errors.As(err, &perm) {
			return result, perm.err
		}
		return result, err
	}
	return result, nil
}

// scheduleBackoff adapts our Backoff interface to backoff/v5's BackOff
// interface, which tracks its own attempt counter.
type scheduleBackoff struct {
	schedule Backoff
	attempt  int
}

func (s *scheduleBackoff) NextBackOff() time.Duration {
	d := s.schedule.next(s.attempt)
	s.attempt++
	return d
}

// Reset restarts the schedule from its first delay.
func (s *scheduleBackoff) Reset() { s.attempt = 0 }
