package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_DoneOnLaterAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Interval: time.Second}

	calls := 0
	out, err := policy.Run(context.Background(), newFakeClock(), func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 0, out.TransportErrors)
}

func TestRetryPolicy_Exhaustion(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, Interval: time.Second}

	out, err := policy.Run(context.Background(), newFakeClock(), func(context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.Equal(t, 4, out.Attempts)
	assert.Nil(t, out.LastErr)
}

func TestRetryPolicy_TransportErrorsShareBudget(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Interval: time.Second}
	boom := errors.New("boom")

	out, err := policy.Run(context.Background(), newFakeClock(), func(context.Context) (bool, error) {
		return false, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, out.TransportErrors)
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, Interval: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := policy.Run(ctx, newFakeClock(), func(context.Context) (bool, error) {
		cancel()
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
