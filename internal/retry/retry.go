// Package retry wraps provider calls in a bounded exponential backoff with
// jitter. Callers decide which errors are worth retrying through the policy's
// classifier; everything else is surfaced on the first attempt.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Defaults applied when the policy leaves a knob at its zero value.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 200 * time.Millisecond
	DefaultMaxDelay  = 5 * time.Second
)

// Policy bounds a retried operation. Attempts counts total calls, not
// re-tries, so Attempts=3 means at most two sleeps.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable classifies errors. A nil classifier retries everything up to
	// the attempt budget.
	Retryable func(error) bool
}

func (p Policy) attempts() int {
	if p.Attempts <= 0 {
		return DefaultAttempts
	}
	return p.Attempts
}

func (p Policy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return p.BaseDelay
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return DefaultMaxDelay
	}
	return p.MaxDelay
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// the attempt budget, or the context ends. It reports how many calls were
// made and the last error exactly as op returned it.
func Do(ctx context.Context, policy Policy, op func(context.Context) error) (int, error) {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return attempts, err
		}
		if attempts >= policy.attempts() {
			return attempts, err
		}
		if sleepErr := sleepContext(ctx, delayFor(policy, attempts)); sleepErr != nil {
			return attempts, sleepErr
		}
	}
}

// delayFor doubles the base delay per completed attempt, caps it at the
// policy maximum, and keeps half the window as random jitter so concurrent
// retries spread out.
func delayFor(policy Policy, attempt int) time.Duration {
	delay := policy.baseDelay()
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.maxDelay() {
			delay = policy.maxDelay()
			break
		}
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// sleepContext waits for the delay or the context, whichever ends first.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
