package retry

import (
	"context"
	"errors"
	"time"

	"github.com/kelpline/breakwater/breaker"
)

// Config controls the retry behaviour of [Do].
type Config struct {
	// MaxAttempts is the maximum number of times fn is called (including the
	// first attempt). Values ≤ 1 mean no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Subsequent retries use
	// exponential back-off: BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed back-off delay.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. A value of 0.2 means ±20 % of
	// the computed delay. Zero disables jitter.
	Jitter float64

	// RetryIf decides whether an error is worth another attempt. Nil
	// means no error is retried.
	RetryIf func(error) bool
}

// Do calls fn up to cfg.MaxAttempts times, retrying only when cfg.RetryIf
// accepts the returned error. Between attempts an exponential back-off delay
// (with optional jitter) is applied.
//
// An open-circuit rejection is never retried, whatever RetryIf says:
// the breaker is in its cooldown on purpose, and hammering it with retries
// would hold the circuit open for everyone.
//
// The context is checked before every retry; if ctx is done the function
// returns immediately with the context error.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		// Last attempt — return immediately regardless of the error.
		if i == attempts-1 {
			return zero, err
		}

		if errors.Is(err, breaker.ErrOpen) {
			return zero, err
		}
		if cfg.RetryIf == nil || !cfg.RetryIf(err) {
			return zero, err
		}

		// Wait with back-off, but respect context cancellation.
		delay := backoff(cfg, i)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	// Unreachable, but keeps the compiler happy.
	return zero, nil
}
