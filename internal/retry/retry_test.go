package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    4 * time.Millisecond,
	}
}

func TestPolicy_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("stops on first success", func(t *testing.T) {
		calls := 0
		done, err := fastPolicy().Do(ctx, func(attempt int) (bool, error) {
			calls++
			return true, nil
		})
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts attempt budget", func(t *testing.T) {
		attempts := []int{}
		done, err := fastPolicy().Do(ctx, func(attempt int) (bool, error) {
			attempts = append(attempts, attempt)
			return false, nil
		})
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	})

	t.Run("fn error aborts immediately", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		done, err := fastPolicy().Do(ctx, func(attempt int) (bool, error) {
			calls++
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, done)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops between attempts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		done, err := fastPolicy().Do(cctx, func(attempt int) (bool, error) {
			cancel()
			return false, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, done)
	})
}

func TestPolicy_DoUntil(t *testing.T) {
	ctx := context.Background()

	t.Run("reports waited time on success", func(t *testing.T) {
		done, waited, err := fastPolicy().DoUntil(ctx, 50*time.Millisecond, func(w time.Duration) (bool, error) {
			return w >= 2*time.Millisecond, nil
		})
		require.NoError(t, err)
		assert.True(t, done)
		assert.GreaterOrEqual(t, waited, 2*time.Millisecond)
	})

	t.Run("gives up when budget exhausted", func(t *testing.T) {
		done, waited, err := fastPolicy().DoUntil(ctx, 10*time.Millisecond, func(w time.Duration) (bool, error) {
			return false, nil
		})
		require.NoError(t, err)
		assert.False(t, done)
		assert.GreaterOrEqual(t, waited, 10*time.Millisecond)
	})

	t.Run("zero budget never calls fn", func(t *testing.T) {
		calls := 0
		done, _, err := fastPolicy().DoUntil(ctx, 0, func(w time.Duration) (bool, error) {
			calls++
			return true, nil
		})
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, 0, calls)
	})
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 8*time.Second, p.MaxDelay)
}
