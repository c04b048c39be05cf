package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAndResets(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.RecordFailure(errors.New("HTTP 502"))
	require.NoError(t, cb.Allow())
	cb.RecordFailure(errors.New("HTTP 502"))

	err := cb.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorContains(t, err, "HTTP 502")
	assert.True(t, cb.IsTripped())

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Allow())
	failures, tripped, _ := cb.GetStats()
	assert.Zero(t, failures)
	assert.False(t, tripped)
}

func TestCircuitBreakerSuccessClearsStreak(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	cb.RecordFailure(errors.New("boom"))
	cb.RecordSuccess()
	cb.RecordFailure(errors.New("boom"))

	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(0, time.Minute)
	for i := 0; i < 10; i++ {
		cb.RecordFailure(errors.New("boom"))
	}
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerForceReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	cb.RecordFailure(nil)
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.ForceReset()
	assert.NoError(t, cb.Allow())
}
