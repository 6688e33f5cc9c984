package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy configures retries of model calls with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int // attempts after the first
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool

	// OnRetry is called before each wait with the failed attempt's error,
	// the retry number starting at 1 and the delay about to be slept.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns two retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay returns the backoff before retry n (0-indexed), capped at MaxDelay.
// Jitter scales it by a random factor in [0.5, 1.5).
func (p RetryPolicy) Delay(n int) time.Duration {
	delay := float64(p.BaseDelay)
	for range n {
		delay *= p.BackoffMultiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			break
		}
	}
	if p.MaxDelay > 0 {
		delay = min(delay, float64(p.MaxDelay))
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// waitFor returns how long to wait before retrying after err, and false
// when a provider Retry-After hint exceeds MaxDelay.
func (p RetryPolicy) waitFor(err error, n int) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		if p.MaxDelay > 0 && rl.RetryAfter > p.MaxDelay {
			return 0, false
		}
		return rl.RetryAfter, true
	}
	return p.Delay(n), true
}

// Retry runs fn, retrying retryable errors according to policy. A cancelled
// context during a wait ends with an AbortError.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	for n := 0; err != nil && n < policy.MaxRetries; n++ {
		if !IsRetryable(err) {
			return zero, err
		}
		delay, ok := policy.waitFor(err, n)
		if !ok {
			return zero, err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(err, n+1, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		case <-timer.C:
		}

		result, err = fn(ctx)
	}
	if err != nil {
		return zero, err
	}
	return result, nil
}

// RetryMiddleware retries provider calls according to policy.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Completion, error)) (*Completion, error) {
		return Retry(ctx, policy, func(ctx context.Context) (*Completion, error) {
			return next(ctx, req)
		})
	}
}
