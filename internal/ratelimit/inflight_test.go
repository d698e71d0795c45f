package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLimiterAdmitsEverything(t *testing.T) {
	limiter := NewInFlightLimiter(nil, 3)
	require.Nil(t, limiter)

	release, err := limiter.Acquire(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
}

func TestZeroMaxDisablesLimiter(t *testing.T) {
	assert.Nil(t, NewInFlightLimiter(nil, 0))
}
