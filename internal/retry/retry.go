// Package retry provides the explicit retry policy shared by the
// reactive and proactive generation paths.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried: a total attempt budget, a
// backoff curve, and a predicate deciding which errors are worth another
// attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// NewBackOff returns a fresh backoff curve per Do call. Nil uses
	// DefaultBackOff.
	NewBackOff func() backoff.BackOff

	// Retryable decides whether an error is transient. Nil retries
	// everything.
	Retryable func(error) bool
}

// DefaultBackOff is the exponential curve used when none is configured.
func DefaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

// Do runs op until it succeeds, exhausts the attempt budget, hits a
// non-retryable error, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = DefaultBackOff
	}
	bo := newBackOff()

	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}
