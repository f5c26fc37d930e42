package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var calls int
	err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	var calls int
	failure := errors.New("still broken")
	err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	var calls int
	failure := errors.New("bad request")
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return Permanent(failure)
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Policy{MaxAttempts: 10, InitialInterval: time.Minute, Multiplier: 2}.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation took effect, got %d", calls)
	}
}

func TestWithAttempts(t *testing.T) {
	p := Default().WithAttempts(5)
	if p.MaxAttempts != 5 {
		t.Fatalf("attempts not applied: %d", p.MaxAttempts)
	}
	if Default().WithAttempts(0).MaxAttempts != 3 {
		t.Fatal("non-positive attempts must keep the default")
	}
}
