package errors

import (
	"fmt"
	"sync"
	"time"

	"cadbridge/internal/logging"
)

// CircuitState is the position of a CircuitBreaker.
type CircuitState int

const (
	// StateClosed lets every request through.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets probes through to test recovery.
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

// CircuitBreakerConfig tunes a CircuitBreaker. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker. Default 5.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it. Default 2.
	SuccessThreshold int
	// Timeout is the cool-down before a half-open probe. Default 30s.
	Timeout time.Duration
	// OnStateChange, when set, is called on its own goroutine.
	OnStateChange func(from, to CircuitState, name string)
}

// DefaultCircuitBreakerConfig returns the default thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing upstream for a while. It never
// retries: callers ask Allow before a request and Mark the outcome after.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Allow returns nil when a request may proceed, otherwise a TransportError
// wrapping ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	waited := cb.now().Sub(cb.openedAt)
	if waited < cb.config.Timeout {
		return &TransportError{
			Err: fmt.Errorf("%w for %s, retry in %v", ErrCircuitOpen, cb.name, cb.config.Timeout-waited),
		}
	}
	cb.moveTo(StateHalfOpen)
	return nil
}

// Mark records the outcome of an allowed request; nil means success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.successes = 0
		switch cb.state {
		case StateClosed:
			cb.failures++
			if cb.failures >= cb.config.FailureThreshold {
				cb.moveTo(StateOpen)
			}
		case StateHalfOpen:
			cb.moveTo(StateOpen)
		case StateOpen:
			cb.openedAt = cb.now()
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
	}
}

// moveTo changes state and resets the counters. Callers hold mu.
func (cb *CircuitBreaker) moveTo(next CircuitState) {
	prev := cb.state
	cb.state = next
	cb.failures = 0
	cb.successes = 0
	if next == StateOpen {
		cb.openedAt = cb.now()
	}
	if prev == next {
		return
	}
	if next == StateOpen {
		cb.logger.Warn("[%s] circuit %s -> %s", cb.name, prev, next)
	} else {
		cb.logger.Info("[%s] circuit %s -> %s", cb.name, prev, next)
	}
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(prev, next, cb.name)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed)
}
