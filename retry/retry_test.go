package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestPolicy_SucceedsAfterRetries(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: Constant(time.Millisecond)}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_ExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 2, Backoff: Constant(time.Millisecond)}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestPolicy_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	p := Policy{
		MaxAttempts: 5,
		Backoff:     Constant(time.Millisecond),
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_NotifyReportsAttempts(t *testing.T) {
	var attempts []int
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Constant(time.Millisecond),
		Notify: func(err error, attempt int, wait time.Duration) {
			attempts = append(attempts, attempt)
			assert.Equal(t, time.Millisecond, wait)
		},
	}
	_ = p.Do(context.Background(), func(context.Context) error { return errTransient })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 100, Backoff: Constant(50 * time.Millisecond)}
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
