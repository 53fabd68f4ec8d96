package recovery

import (
	"time"
)

// DefaultGracePeriod is used when no grace period is configured
const DefaultGracePeriod = 15 * time.Second

// ErrorRecoveryManager tracks a run of failed EVSE polls and decides when the
// controller should be reported offline. It is not safe for concurrent use;
// health.Monitor guards it.
type ErrorRecoveryManager struct {
	consecutiveErrors  int
	firstErrorTime     time.Time
	errorGracePeriod   time.Duration
	statusSetToOffline bool
	now                func() time.Time
}

// NewErrorRecoveryManager creates a new error recovery manager
func NewErrorRecoveryManager(gracePeriod time.Duration) *ErrorRecoveryManager {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &ErrorRecoveryManager{
		errorGracePeriod: gracePeriod,
		now:              time.Now,
	}
}

// RecordError records a failure and reports whether the grace period has expired
func (m *ErrorRecoveryManager) RecordError() bool {
	m.consecutiveErrors++
	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = m.now()
	}
	return m.now().Sub(m.firstErrorTime) >= m.errorGracePeriod
}

// RecordSuccess ends the current error run
func (m *ErrorRecoveryManager) RecordSuccess() {
	m.Reset()
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *ErrorRecoveryManager) GetConsecutiveErrors() int {
	return m.consecutiveErrors
}

// ShouldMarkOffline is true once per error run, after the grace period
func (m *ErrorRecoveryManager) ShouldMarkOffline() bool {
	if m.statusSetToOffline || m.firstErrorTime.IsZero() {
		return false
	}
	return m.now().Sub(m.firstErrorTime) >= m.errorGracePeriod
}

// MarkAsOffline suppresses further ShouldMarkOffline reports for this run
func (m *ErrorRecoveryManager) MarkAsOffline() {
	m.statusSetToOffline = true
}

// IsInGracePeriod returns true if we're currently in the grace period after first error
func (m *ErrorRecoveryManager) IsInGracePeriod() bool {
	if m.firstErrorTime.IsZero() {
		return false
	}
	return m.now().Sub(m.firstErrorTime) < m.errorGracePeriod
}

// GetTimeSinceFirstError returns the duration since the first error in current sequence
func (m *ErrorRecoveryManager) GetTimeSinceFirstError() time.Duration {
	if m.firstErrorTime.IsZero() {
		return 0
	}
	return m.now().Sub(m.firstErrorTime)
}

// Reset resets all error tracking state
func (m *ErrorRecoveryManager) Reset() {
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.statusSetToOffline = false
}
