package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

type transition struct {
	from, to State
}

func newTestBreaker(maxFailures int, timeout time.Duration) (*CircuitBreaker, *time.Time, *[]transition) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var changes []transition

	cb := New(Config{
		Name:        "test",
		MaxFailures: maxFailures,
		Timeout:     timeout,
		Now:         func() time.Time { return now },
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, transition{from, to})
		},
	})
	return cb, &now, &changes
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _, changes := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Call(fail), errBackend)
		assert.Equal(t, StateClosed, cb.State())
	}

	assert.ErrorIs(t, cb.Call(fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	assert.Equal(t, []transition{{StateClosed, StateOpen}}, *changes)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _, _ := newTestBreaker(3, time.Minute)

	require.Error(t, cb.Call(fail))
	require.Error(t, cb.Call(fail))
	require.NoError(t, cb.Call(succeed))
	require.Error(t, cb.Call(fail))
	require.Error(t, cb.Call(fail))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Metrics().FailureCount)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now, changes := newTestBreaker(1, 30*time.Second)

	require.Error(t, cb.Call(fail))
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(10 * time.Second)
	assert.ErrorIs(t, cb.Call(succeed), ErrCircuitOpen)

	*now = now.Add(25 * time.Second)
	require.NoError(t, cb.Call(succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, *changes)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now, _ := newTestBreaker(1, 30*time.Second)

	require.Error(t, cb.Call(fail))
	*now = now.Add(31 * time.Second)

	assert.ErrorIs(t, cb.Call(fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	cb := New(Config{
		MaxFailures: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Call(func() error { return context.Canceled }), context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Call(fail))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _, changes := newTestBreaker(1, time.Hour)

	require.Error(t, cb.Call(fail))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Metrics().FailureCount)
	assert.NoError(t, cb.Call(succeed))
	assert.Len(t, *changes, 2)
	assert.Equal(t, "test", cb.Name())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
