package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLink = errors.New("reply timeout")

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour, HalfOpenMaxTries: 1})

	for i := 0; i < 2; i++ {
		err := cb.Call(func() error { return errLink })
		assert.ErrorIs(t, err, errLink)
	}
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not reach the channel")
	assert.Equal(t, 1, cb.GetStats().Rejected)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3})

	_ = cb.Call(func() error { return errLink })
	_ = cb.Call(func() error { return errLink })
	require.NoError(t, cb.Call(func() error { return nil }))

	assert.Equal(t, 0, cb.GetFailures())
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMaxTries: 2})

	_ = cb.Call(func() error { return errLink })
	require.Equal(t, StateOpen, cb.GetState())
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond})

	_ = cb.Call(func() error { return errLink })
	time.Sleep(20 * time.Millisecond)
	_ = cb.Call(func() error { return errLink })

	assert.Equal(t, StateOpen, cb.GetState())
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Contains(t, cb.GetStats().String(), "state=CLOSED")
}

func TestErrorRecoveryManagerGracePeriod(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewErrorRecoveryManager(10 * time.Second)
	m.now = func() time.Time { return now }

	assert.False(t, m.RecordError())
	assert.True(t, m.IsInGracePeriod())
	assert.False(t, m.ShouldMarkOffline())

	now = now.Add(11 * time.Second)
	assert.True(t, m.RecordError())
	assert.Equal(t, 2, m.GetConsecutiveErrors())
	assert.True(t, m.ShouldMarkOffline())

	m.MarkAsOffline()
	assert.False(t, m.ShouldMarkOffline(), "offline is reported once per run")

	m.RecordSuccess()
	assert.Equal(t, 0, m.GetConsecutiveErrors())
	assert.Zero(t, m.GetTimeSinceFirstError())
}

func TestErrorRecoveryManagerDefaultGrace(t *testing.T) {
	m := NewErrorRecoveryManager(0)
	assert.Equal(t, DefaultGracePeriod, m.errorGracePeriod)
}

func TestCircuitBreakerClassifierAndClock(t *testing.T) {
	errBusy := errors.New("caller gave up")
	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:      1,
		Timeout:          time.Minute,
		HalfOpenMaxTries: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errBusy) },
		OnStateChange:    func(_, to CircuitState) { transitions = append(transitions, to) },
	})
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	assert.ErrorIs(t, cb.Call(func() error { return errBusy }), errBusy)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Zero(t, cb.GetFailures())

	_ = cb.Call(func() error { return errLink })
	require.Equal(t, StateOpen, cb.GetState())

	now = now.Add(59 * time.Second)
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(2 * time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, []CircuitState{StateOpen, StateHalfOpen, StateClosed}, transitions)
}
