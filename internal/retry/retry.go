// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// maxDelay caps the backoff so a long attempt chain never sleeps for minutes.
const maxDelay = 10 * time.Second

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times, sleeping between attempts with
// exponential backoff and +-25% jitter starting from baseDelay. It returns
// early on success, on a *PermanentError, or when ctx is done. The last
// attempt's error is returned when all attempts fail.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(baseDelay, attempt)):
		}
	}
}

// jittered returns baseDelay doubled attempt-1 times, capped at maxDelay,
// with +-25% random jitter.
func jittered(baseDelay time.Duration, attempt int) time.Duration {
	delay := baseDelay << (attempt - 1)
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	spread := delay / 2
	if spread <= 0 {
		return delay
	}
	return delay - spread/2 + rand.N(spread)
}
