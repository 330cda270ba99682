package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chikwex/orderpipeline/internal/capability"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, Interval: time.Millisecond, Rate: 2.0}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	attempts, err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_TransientThenSuccess(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return capability.Transientf("timeout %d", calls)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return capability.Permanentf("declined")
	})
	require.Error(t, err)
	assert.True(t, capability.IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsTransientBudget(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return capability.Transientf("still down")
	})
	require.Error(t, err)
	assert.True(t, capability.IsTransient(err))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	p := Policy{MaxAttempts: 5, Interval: 50 * time.Millisecond, Rate: 2.0}
	_, err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return capability.Transientf("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	calls := 0
	attempts, err := Policy{Interval: time.Millisecond, Rate: 2}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return capability.Transientf("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
