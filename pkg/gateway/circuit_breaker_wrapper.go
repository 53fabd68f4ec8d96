package gateway

import (
	"context"
	"errors"
	"fmt"

	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/recovery"
)

// CircuitBreakerGateway wraps a Gateway with circuit breaker pattern.
// Only channel failures count; an NK reply is a working link.
type CircuitBreakerGateway struct {
	gateway        Gateway
	circuitBreaker *recovery.CircuitBreaker
}

// NewCircuitBreakerGateway creates a new gateway with circuit breaker.
// Caller cancellation never counts as a failure; a hook already set in
// config still runs after the transition is logged.
func NewCircuitBreakerGateway(gw Gateway, config recovery.CircuitBreakerConfig) *CircuitBreakerGateway {
	if config.IsFailure == nil {
		config.IsFailure = isChannelFailure
	}
	next := config.OnStateChange
	config.OnStateChange = func(from, to recovery.CircuitState) {
		logTransition(from, to)
		if next != nil {
			next(from, to)
		}
	}

	cbg := &CircuitBreakerGateway{
		gateway:        gw,
		circuitBreaker: recovery.NewCircuitBreaker(config),
	}

	logger.LogInfo("🔌 Circuit breaker initialized for RAPI gateway (MaxFailures: %d, Timeout: %s)",
		config.MaxFailures, config.Timeout)
	return cbg
}

// isChannelFailure excludes a context the caller cancelled; a deadline
// that expired while waiting for the controller still counts
func isChannelFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func logTransition(from, to recovery.CircuitState) {
	switch to {
	case recovery.StateClosed:
		logger.LogInfo("🟢 Circuit breaker: %s -> CLOSED (controller reachable)", from)
	case recovery.StateOpen:
		logger.LogWarn("🔴 Circuit breaker: %s -> OPEN (fast-failing commands)", from)
	case recovery.StateHalfOpen:
		logger.LogInfo("🟡 Circuit breaker: %s -> HALF-OPEN (probing controller)", from)
	}
}

// Connect delegates to the underlying gateway
func (cbg *CircuitBreakerGateway) Connect(ctx context.Context) error {
	return cbg.gateway.Connect(ctx)
}

// Disconnect delegates to the underlying gateway
func (cbg *CircuitBreakerGateway) Disconnect() {
	cbg.gateway.Disconnect()
}

// IsConnected delegates to the underlying gateway
func (cbg *CircuitBreakerGateway) IsConnected() bool {
	return cbg.gateway.IsConnected()
}

// SetEventHandler delegates to the underlying gateway; events bypass the breaker
func (cbg *CircuitBreakerGateway) SetEventHandler(handler func(line string)) {
	cbg.gateway.SetEventHandler(handler)
}

// Send wraps the exchange with the circuit breaker
func (cbg *CircuitBreakerGateway) Send(ctx context.Context, command string) (*rapi.Reply, error) {
	var reply *rapi.Reply

	err := cbg.circuitBreaker.Call(func() error {
		var callErr error
		reply, callErr = cbg.gateway.Send(ctx, command)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// GetCircuitBreakerStats returns current circuit breaker statistics
func (cbg *CircuitBreakerGateway) GetCircuitBreakerStats() recovery.CircuitBreakerStats {
	return cbg.circuitBreaker.GetStats()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (cbg *CircuitBreakerGateway) ResetCircuitBreaker() {
	logger.LogInfo("🔄 Manually resetting circuit breaker")
	cbg.circuitBreaker.Reset()
}

// GetState returns the current circuit breaker state (for monitoring)
func (cbg *CircuitBreakerGateway) GetState() recovery.CircuitState {
	return cbg.circuitBreaker.GetState()
}

func (cbg *CircuitBreakerGateway) String() string {
	return fmt.Sprintf("CircuitBreakerGateway{%s}", cbg.circuitBreaker.GetStats())
}

var _ Gateway = (*CircuitBreakerGateway)(nil)
