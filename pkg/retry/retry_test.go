package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	errA := errors.New("first")
	errB := errors.New("last")
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errA
		}
		return errB
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errB)
}

func TestDo_StopsOnSuccessMidway(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 2 {
			return nil
		}
		return errors.New("transient")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentErrorShortCircuits(t *testing.T) {
	calls := 0
	permErr := errors.New("bad request")
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		return Stop(permErr)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permErr)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transient := errors.New("transient")

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, Policy{MaxAttempts: 3, Delay: time.Second}, func(ctx context.Context, attempt int) error {
		return transient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, transient)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
