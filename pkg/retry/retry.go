package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds a retried lookup: geometric backoff with jitter, a per-attempt
// delay cap, and an overall wall-clock budget. Errors are fatal unless marked
// with Retryable.
type Policy struct {
	StartDelay  time.Duration
	Factor      float64
	MaxDelay    time.Duration
	Budget      time.Duration
	MaxAttempts uint64
}

// DefaultLookup matches the tolerance for CRM eventual consistency: a contact
// created elsewhere can take a few seconds to become searchable.
func DefaultLookup() Policy {
	return Policy{
		StartDelay:  200 * time.Millisecond,
		Factor:      1.7,
		MaxDelay:    1500 * time.Millisecond,
		Budget:      7 * time.Second,
		MaxAttempts: 8,
	}
}

// Retryable marks err as transient so Do keeps attempting within the budget.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// Do runs fn until it succeeds, returns a fatal (unmarked) error, or the
// policy budget is exhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), fn)
}

func (p Policy) backoff() retry.Backoff {
	delay := p.StartDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 1.7
	}

	next := delay
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		current := next
		scaled := time.Duration(float64(next) * factor)
		if p.MaxDelay > 0 && scaled > p.MaxDelay {
			scaled = p.MaxDelay
		}
		next = scaled
		return current, false
	})

	b = retry.WithJitterPercent(20, b)
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(p.MaxAttempts-1, b)
	}
	if p.Budget > 0 {
		b = retry.WithMaxDuration(p.Budget, b)
	}
	return b
}
