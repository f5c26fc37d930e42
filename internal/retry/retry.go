// Package retry provides the backoff policy shared by both filter
// stages and the retrieval sources.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a small reusable retry description: attempt budget and an
// exponential backoff curve (1s, 2s, 4s with the defaults).
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

// Default mirrors the pipeline's retry budget of 3 attempts.
func Default() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: time.Second, Multiplier: 2}
}

// WithAttempts returns a copy of the policy with a different budget.
func (p Policy) WithAttempts(n int) Policy {
	if n > 0 {
		p.MaxAttempts = n
	}
	return p
}

// Do runs op until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. Wrap an error with Permanent to stop early for
// non-transient failures.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := p.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.Multiplier = multiplier
	// Deterministic waits: the schedule is part of the contract.
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	wrapped := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.Retry(op, wrapped)
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
