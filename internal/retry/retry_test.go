package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient failure")

func fastPolicy(attempts int, retryable func(error) bool) Policy {
	return Policy{
		Attempts:  attempts,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Retryable: retryable,
	}
}

func TestDoReturnsAfterFirstSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(3, nil), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected a single call, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(3, nil), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected three calls, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoSurfacesLastErrorAfterExhaustion(t *testing.T) {
	t.Parallel()

	lastErr := errors.New("attempt three failed")
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(3, nil), func(context.Context) error {
		calls++
		if calls == 3 {
			return lastErr
		}
		return errTransient
	})
	if !errors.Is(err, lastErr) {
		t.Fatalf("expected the final attempt's error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected three attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()

	permanent := errors.New("already exists")
	classifier := func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(5, classifier), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected a single call, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := Do(ctx, Policy{Attempts: 5, BaseDelay: time.Minute}, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected cancellation before the second call, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDelayForGrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	policy := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		delay := delayFor(policy, attempt)
		if delay <= 0 {
			t.Fatalf("attempt %d produced non-positive delay %v", attempt, delay)
		}
		if delay > policy.MaxDelay {
			t.Fatalf("attempt %d produced delay %v above the cap", attempt, delay)
		}
	}

	if delay := delayFor(policy, 1); delay > policy.BaseDelay {
		t.Fatalf("first retry delay %v exceeds the base window", delay)
	}
}
