package chainrpc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMALI-DEFI/Imali-sub000/internal/chainrpc"
)

func quickRetry() chainrpc.RetryConfig {
	return chainrpc.RetryConfig{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	attempts := 0
	result, err := chainrpc.RetryWithConfig(context.Background(), quickRetry(), func() (string, error) {
		attempts++
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	attempts := 0
	result, err := chainrpc.RetryWithConfig(context.Background(), quickRetry(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", chainrpc.ErrRetryable
		}
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 3, attempts)
}

var errNonRetryable = errors.New("non-retryable error")

func TestRetry_NonRetryableError(t *testing.T) {
	t.Parallel()

	attempts := 0
	_, err := chainrpc.RetryWithConfig(context.Background(), quickRetry(), func() (string, error) {
		attempts++
		return "", errNonRetryable
	})

	require.ErrorIs(t, err, errNonRetryable)
	assert.Equal(t, 1, attempts)
}

func TestRetry_MaxAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	_, err := chainrpc.RetryWithConfig(context.Background(), quickRetry(), func() (string, error) {
		attempts++
		return "", chainrpc.ErrRateLimited
	})

	require.ErrorIs(t, err, chainrpc.ErrRateLimited)
	assert.Equal(t, 4, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := chainrpc.RetryConfig{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := chainrpc.RetryWithConfig(ctx, cfg, func() (string, error) {
		attempts++
		return "", chainrpc.ErrRetryable
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 10)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	attempts := 0
	_, err := chainrpc.RetryWithConfig(context.Background(), chainrpc.RetryConfig{}, func() (int, error) {
		attempts++
		return 0, chainrpc.ErrRetryable
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "retryable", err: chainrpc.ErrRetryable, want: true},
		{name: "rate limited", err: chainrpc.ErrRateLimited, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "wrapped", err: chainrpc.WrapRetryable(errors.New("reset")), want: true},
		{name: "plain", err: errors.New("revert"), want: false},
		{name: "canceled", err: context.Canceled, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, chainrpc.IsRetryable(tc.err))
		})
	}
}

func TestWrapRetryable_Nil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, chainrpc.WrapRetryable(nil))
}
