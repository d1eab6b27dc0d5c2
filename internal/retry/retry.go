// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/soyeahso/hyperloop/internal/config"
)

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts; 0 means unbounded
	Delay       time.Duration // wait after the first failure
	Multiplier  float64       // delay growth per failure; <= 1 keeps it fixed
	MaxDelay    time.Duration // cap on the grown delay; 0 means no cap

	// Retryable classifies errors; nil treats every error as retryable.
	Retryable func(error) bool
	// OnRetry is called after a failed attempt, before waiting.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Sleep waits between attempts; nil uses Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do returns it immediately without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// maxWait is the longest wait Backoff returns.
const maxWait = time.Duration(math.MaxInt64)

// Backoff returns the wait after the given failed attempt (1-based). Growth
// saturates at maxWait instead of overflowing.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			next := float64(d) * p.Multiplier
			if next >= float64(maxWait) {
				d = maxWait
				break
			}
			d = time.Duration(next)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a permanent or non-retryable error,
// the attempts run out, or ctx is done. fn receives the 1-based attempt.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Last: err}
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// FromConfig builds a Policy from its configured form.
func FromConfig(rc config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: rc.MaxAttempts,
		Delay:       rc.Delay.Std(),
		Multiplier:  rc.Multiplier,
		MaxDelay:    rc.MaxDelay.Std(),
	}
}
