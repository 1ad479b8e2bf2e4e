package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/outpostdb/migrator/internal/migrate/retry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWriteConflict(t *testing.T) {
	assert.True(t, retry.IsWriteConflict(redis.TxFailedErr))
	assert.False(t, retry.IsWriteConflict(redis.Nil))
	assert.False(t, retry.IsWriteConflict(nil))
}

func TestS6_RetriesThenSucceeds(t *testing.T) {
	policy := retry.DefaultPolicy()
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond

	attempts := 0
	var notified int
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		notified++
	}

	err := retry.Run(context.Background(), policy, func() error {
		attempts++
		if attempts < 3 {
			return redis.TxFailedErr
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, notified)
}

func TestRetry_NonRetriableFailsImmediately(t *testing.T) {
	policy := retry.DefaultPolicy()
	calls := 0
	err := retry.Run(context.Background(), policy, func() error {
		calls++
		return redis.Nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustionReturnsConflictExhausted(t *testing.T) {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = 2
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 3 * time.Millisecond

	calls := 0
	err := retry.Run(context.Background(), policy, func() error {
		calls++
		return redis.TxFailedErr
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries retries")
}
