package errors

import (
	"context"
	"math"
	"time"
)

// BackoffFunc returns the delay before the given retry (attempt starts at 1).
type BackoffFunc func(attempt int) time.Duration

// Policy describes how one class of operation is retried.
type Policy struct {
	Name        string
	MaxAttempts int
	Backoff     BackoffFunc
	// Retryable decides whether err deserves another attempt. Nil means IsRetryable.
	Retryable func(err error) bool
	// Guard runs before every retry; returning false abandons the remaining attempts.
	Guard func(ctx context.Context) bool
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Fixed waits the same delay between every attempt
func Fixed(delay time.Duration) BackoffFunc {
	return func(int) time.Duration { return delay }
}

// Exponential doubles (times multiplier) from base, capped at max
func Exponential(base, max time.Duration, multiplier float64) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return base
		}
		delay := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
		if delay > max || delay <= 0 {
			return max
		}
		return delay
	}
}

// NetworkPolicy is used for chain lookups (receipts, balances, nonces).
func NetworkPolicy() Policy {
	return Policy{
		Name:        "network",
		MaxAttempts: 3,
		Backoff:     Exponential(500*time.Millisecond, 5*time.Second, 2.0),
	}
}

// StoreMutationPolicy is used for writes against the tabular store.
func StoreMutationPolicy() Policy {
	return Policy{
		Name:        "store_mutation",
		MaxAttempts: 3,
		Backoff:     Exponential(250*time.Millisecond, 2*time.Second, 2.0),
	}
}

// SessionApprovalPolicy retries peer session approval: 3 attempts, 5s apart.
// Anything except an auth or validation failure is retried.
func SessionApprovalPolicy() Policy {
	return Policy{
		Name:        "session_approval",
		MaxAttempts: 3,
		Backoff:     Fixed(5 * time.Second),
		Retryable: func(err error) bool {
			switch KindOf(err) {
			case KindAuth, KindValidation:
				return false
			default:
				return true
			}
		},
	}
}

// Do runs fn until it succeeds, the policy gives up, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if p.Backoff != nil {
			timer := time.NewTimer(p.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if p.Guard != nil && !p.Guard(ctx) {
			break
		}
	}

	return lastErr
}

// WithGuard returns a copy of p with the guard set
func (p Policy) WithGuard(guard func(ctx context.Context) bool) Policy {
	p.Guard = guard
	return p
}

// WithBackoff returns a copy of p with the backoff replaced
func (p Policy) WithBackoff(backoff BackoffFunc) Policy {
	p.Backoff = backoff
	return p
}

// WithAttempts returns a copy of p with MaxAttempts replaced
func (p Policy) WithAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}
