package health

import (
	"sync"
	"time"

	"openevse-mqtt-bridge/pkg/recovery"
)

// Monitor tracks whether the EVSE is answering polls. A run of failures
// only marks it offline once the recovery grace period has expired.
type Monitor struct {
	mu            sync.RWMutex
	isOnline      bool
	lastSuccess   time.Time
	lastErrorTime time.Time
	successCount  int
	errorCount    int
	errorManager  *recovery.ErrorRecoveryManager
}

// NewMonitor creates a monitor that starts online
func NewMonitor(gracePeriod time.Duration) *Monitor {
	return &Monitor{
		isOnline:     true,
		errorManager: recovery.NewErrorRecoveryManager(gracePeriod),
	}
}

// IsOnline returns whether the EVSE is currently marked as online
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOnline
}

// RecordSuccess records a successful poll. It returns true when this
// success brings the EVSE back online.
func (m *Monitor) RecordSuccess() (cameOnline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cameOnline = !m.isOnline
	m.successCount++
	m.lastSuccess = time.Now()
	m.errorManager.RecordSuccess()
	m.isOnline = true
	return cameOnline
}

// RecordError records a failed poll and returns whether the EVSE should
// now be reported offline. It reports true at most once per error run.
func (m *Monitor) RecordError() (shouldMarkOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCount++
	m.lastErrorTime = time.Now()
	m.errorManager.RecordError()
	return m.errorManager.ShouldMarkOffline()
}

// MarkOffline marks the EVSE offline
func (m *Monitor) MarkOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOnline = false
	m.errorManager.MarkAsOffline()
}

// MarkOnline marks the EVSE online and clears the error run
func (m *Monitor) MarkOnline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOnline = true
	m.errorManager.Reset()
}

// GetLastSuccessTime returns when a poll last succeeded
func (m *Monitor) GetLastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccess
}

// GetLastErrorTime returns the time of the last error
func (m *Monitor) GetLastErrorTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErrorTime
}

// GetErrorCount returns the failed polls since the last ResetCounters
func (m *Monitor) GetErrorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorCount
}

// GetSuccessCount returns the successful polls since the last ResetCounters
func (m *Monitor) GetSuccessCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successCount
}

// ResetCounters starts a new counting window for the health endpoint
func (m *Monitor) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successCount = 0
	m.errorCount = 0
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *Monitor) GetConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.GetConsecutiveErrors()
}

// IsInGracePeriod returns true if currently in error grace period
func (m *Monitor) IsInGracePeriod() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.IsInGracePeriod()
}
