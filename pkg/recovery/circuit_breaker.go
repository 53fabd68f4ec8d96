package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - commands pass through to the controller
	StateClosed CircuitState = iota
	// StateOpen - channel considered down, commands fail fast
	StateOpen
	// StateHalfOpen - a limited number of probe commands are allowed
	StateHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for circuit breaker
type CircuitBreakerConfig struct {
	MaxFailures      int           // Default: 5
	Timeout          time.Duration // Default: 30 seconds
	HalfOpenMaxTries int           // Default: 3

	// IsFailure decides whether an error counts against the channel.
	// nil counts every error.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker fails fast once the command channel has failed
// MaxFailures times in a row, and probes it again after Timeout.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu               sync.Mutex
	state            CircuitState
	failures         int
	openedAt         time.Time
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenAttempts int
	rejected         int
}

// NewCircuitBreaker creates a new circuit breaker with given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxTries <= 0 {
		config.HalfOpenMaxTries = 3
	}

	return &CircuitBreaker{
		cfg:             config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Call executes fn if the circuit allows it. Rejections wrap ErrCircuitOpen;
// otherwise fn's error is returned unchanged.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

// transition must be called with mu held; the returned func fires the hook
func (cb *CircuitBreaker) transition(to CircuitState) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	cb.lastStateChange = cb.now()
	if to == StateOpen {
		cb.openedAt = cb.lastStateChange
	}
	if to != StateHalfOpen {
		cb.halfOpenAttempts = 0
	}

	hook := cb.cfg.OnStateChange
	return func() {
		if hook != nil {
			hook(from, to)
		}
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	notify := func() {}
	defer func() {
		cb.mu.Unlock()
		notify()
	}()

	switch cb.state {
	case StateOpen:
		retryAt := cb.openedAt.Add(cb.cfg.Timeout)
		if cb.now().Before(retryAt) {
			cb.rejected++
			return fmt.Errorf("%w (failed %d times, retry in %.0fs)",
				ErrCircuitOpen, cb.failures, retryAt.Sub(cb.now()).Seconds())
		}
		notify = cb.transition(StateHalfOpen)
		cb.halfOpenAttempts = 1
		return nil

	case StateHalfOpen:
		if cb.halfOpenAttempts >= cb.cfg.HalfOpenMaxTries {
			cb.rejected++
			return fmt.Errorf("%w (half-open, probe limit reached)", ErrCircuitOpen)
		}
		cb.halfOpenAttempts++
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}

	cb.mu.Lock()
	notify := func() {}
	defer func() {
		cb.mu.Unlock()
		notify()
	}()

	if failed {
		cb.failures++
		cb.lastFailureTime = cb.now()
		// a failed probe reopens immediately
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			notify = cb.transition(StateOpen)
		}
		return
	}

	switch {
	case err != nil:
		// not the channel's fault: neither a failure nor proof of health
	case cb.state == StateClosed:
		cb.failures = 0
	case cb.state == StateHalfOpen && cb.halfOpenAttempts >= cb.cfg.HalfOpenMaxTries:
		cb.failures = 0
		notify = cb.transition(StateClosed)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetFailures returns the current failure count
func (cb *CircuitBreaker) GetFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset manually closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures = 0
	notify := cb.transition(StateClosed)
	cb.mu.Unlock()
	notify()
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:                    cb.state,
		Failures:                 cb.failures,
		Rejected:                 cb.rejected,
		LastFailureTime:          cb.lastFailureTime,
		LastStateChange:          cb.lastStateChange,
		HalfOpenAttempts:         cb.halfOpenAttempts,
		TimeSinceLastStateChange: cb.now().Sub(cb.lastStateChange),
	}
}

// CircuitBreakerStats holds statistics about the circuit breaker
type CircuitBreakerStats struct {
	State                    CircuitState
	Failures                 int
	Rejected                 int // Calls refused without reaching the channel
	LastFailureTime          time.Time
	LastStateChange          time.Time
	HalfOpenAttempts         int
	TimeSinceLastStateChange time.Duration
}

func (s CircuitBreakerStats) String() string {
	last := "never"
	if !s.LastFailureTime.IsZero() {
		last = s.LastFailureTime.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("state=%s failures=%d rejected=%d last_failure=%s in_state=%s",
		s.State, s.Failures, s.Rejected, last, s.TimeSinceLastStateChange.Round(time.Second))
}
