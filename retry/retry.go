// Package retry provides an explicit retry policy used for writes against the eventually consistent durable
// store and for polling external services.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded retry loop. A zero MaxAttempts means a single attempt.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration // wait before attempt+1, attempt is 1-based
	Retryable   func(error) bool                // nil retries every error
	Notify      func(err error, attempt int, wait time.Duration)
}

// Constant returns a backoff function waiting d between all attempts.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts are exhausted or ctx is done.
// The last error of op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := &policyBackOff{policy: p}
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.Notify != nil {
			p.Notify(err, attempt, wait)
		}
	}
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

// Attempts returns the effective number of attempts.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// policyBackOff adapts a Policy to backoff.BackOff.
type policyBackOff struct {
	policy  Policy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.policy.Attempts() {
		return backoff.Stop
	}
	if b.policy.Backoff == nil {
		return 0
	}
	return b.policy.Backoff(b.attempt)
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}
