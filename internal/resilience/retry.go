package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy controls the exponential backoff used for transport calls.
// Delays start at Initial, double per attempt, carry ±25% jitter and are
// capped at MaxDelay. HTTP 429 responses honor Retry-After when present and
// the first FreeRateLimitHits occurrences do not consume the retry budget.
type RetryPolicy struct {
	MaxRetries        int
	Initial           time.Duration
	MaxDelay          time.Duration
	FreeRateLimitHits int

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// DefaultRetryPolicy returns the standard transport retry policy.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:        maxRetries,
		Initial:           500 * time.Millisecond,
		MaxDelay:          8 * time.Second,
		FreeRateLimitHits: 2,
	}
}

// Retryable classifies an error for the retry loop.
type Retryable interface {
	Retryable() bool
}

// RateLimited is implemented by rate-limit errors carrying a Retry-After hint.
type RateLimited interface {
	RetryAfter() (time.Duration, bool)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is exhausted. The last error is returned on exhaustion.
func (p RetryPolicy) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	random := p.rand
	if random == nil {
		random = rand.Float64
	}

	delay := p.Initial
	attempts := 0
	freeHits := 0

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		r, ok := err.(Retryable)
		if !ok || !r.Retryable() {
			return err
		}

		wait := delay
		rateLimited := false
		if rl, ok := err.(RateLimited); ok {
			rateLimited = true
			if after, hasHint := rl.RetryAfter(); hasHint && after > 0 {
				wait = after
			}
		}

		if rateLimited && freeHits < p.FreeRateLimitHits {
			freeHits++
		} else {
			attempts++
			if attempts > p.MaxRetries {
				return err
			}
		}

		// ±25% jitter, capped
		jittered := time.Duration(float64(wait) * (0.75 + 0.5*random()))
		if jittered > p.MaxDelay {
			jittered = p.MaxDelay
		}
		if err := sleep(ctx, jittered); err != nil {
			return err
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
