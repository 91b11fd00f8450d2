package reliability

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// StateClosed — normal operation, requests pass through.
	StateClosed CircuitState = iota
	// StateOpen — dependency is failing, requests are rejected immediately.
	StateOpen
	// StateHalfOpen — probing recovery, requests are allowed through.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Code returns the numeric state used by the health endpoint:
// 0 closed, 1 open, 2 half-open.
func (s CircuitState) Code() int { return int(s) }

// CircuitBreakerConfig defines circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the consecutive-success count that closes it from half-open.
	SuccessThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
	// OnStateChange is invoked on every transition, under the breaker lock.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker guards a flaky dependency so repeated failures short-circuit
// instead of cascading. State transitions are serialized under the mutex;
// only the breaker itself mutates its state.
type CircuitBreaker struct {
	mu              sync.RWMutex
	name            string
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
	lastError       error
	config          CircuitBreakerConfig
}

// NewCircuitBreaker creates a closed breaker with the given config.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultCircuitBreakerConfig().SuccessThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultCircuitBreakerConfig().RecoveryTimeout
	}
	return &CircuitBreaker{
		name:            name,
		state:           StateClosed,
		config:          config,
		lastStateChange: time.Now(),
	}
}

// Execute wraps an operation with circuit breaker logic.
func (cb *CircuitBreaker) Execute(operation func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := operation()
	cb.afterRequest(err)
	return err
}

// beforeRequest checks whether the call may proceed, moving an expired open
// circuit to half-open on the way.
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.setStateLocked(StateHalfOpen)
			slog.Info("Circuit breaker probing recovery",
				"breaker", cb.name,
				"open_for", time.Since(cb.lastFailureTime))
			return nil
		}
		remaining := cb.config.RecoveryTimeout - time.Since(cb.lastFailureTime)
		return fmt.Errorf("%w: %s rejected call, retry in %v", ErrCircuitOpen, cb.name, remaining.Round(time.Millisecond))

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

// afterRequest records the result and updates the state machine.
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure(err)
	}
}

// onSuccess handles successful requests. Caller holds the lock.
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.setStateLocked(StateClosed)
			slog.Info("Circuit breaker closed", "breaker", cb.name)
		}
	}
}

// onFailure handles failed requests. Caller holds the lock.
func (cb *CircuitBreaker) onFailure(err error) {
	cb.failureCount++
	cb.lastFailureTime = time.Now()
	cb.lastError = err

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setStateLocked(StateOpen)
			slog.Error("Circuit breaker opened",
				"breaker", cb.name,
				"consecutive_failures", cb.failureCount,
				"recovery_timeout", cb.config.RecoveryTimeout,
				"error", err)
		} else {
			slog.Warn("Circuit breaker recorded failure",
				"breaker", cb.name,
				"failure_count", cb.failureCount,
				"threshold", cb.config.FailureThreshold,
				"error", err)
		}

	case StateHalfOpen:
		// Any failure while probing reopens the circuit.
		cb.successCount = 0
		cb.setStateLocked(StateOpen)
		slog.Warn("Circuit breaker reopened",
			"breaker", cb.name,
			"error", err)
	}
}

// setStateLocked transitions to a new state. Caller holds the lock.
func (cb *CircuitBreaker) setStateLocked(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// CircuitBreakerStats contains circuit breaker statistics.
type CircuitBreakerStats struct {
	Name             string       `json:"name"`
	State            CircuitState `json:"state"`
	StateCode        int          `json:"state_code"`
	FailureCount     int          `json:"failure_count"`
	SuccessCount     int          `json:"success_count"`
	LastFailureTime  time.Time    `json:"last_failure_time,omitempty"`
	LastStateChange  time.Time    `json:"last_state_change"`
	FailureThreshold int          `json:"failure_threshold"`
	SuccessThreshold int          `json:"success_threshold"`
	LastError        string       `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := CircuitBreakerStats{
		Name:             cb.name,
		State:            cb.state,
		StateCode:        cb.state.Code(),
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
		FailureThreshold: cb.config.FailureThreshold,
		SuccessThreshold: cb.config.SuccessThreshold,
	}
	if cb.lastError != nil {
		stats.LastError = cb.lastError.Error()
	}
	return stats
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.lastStateChange = time.Now()
	cb.lastError = nil

	if oldState != StateClosed {
		slog.Info("Circuit breaker manually reset", "breaker", cb.name, "previous_state", oldState.String())
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(oldState, StateClosed)
		}
	}
}
