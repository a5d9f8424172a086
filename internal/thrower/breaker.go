package thrower

import (
	"log/slog"
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening, 0 disables the breaker
	Cooldown         time.Duration // time spent open before a trial request
	Logger           *slog.Logger
	Endpoint         string
}

// CircuitBreaker guards one HTTP endpoint. While open, throws to the
// endpoint are not attempted and the message is requeued.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	lastStateChange time.Time
	config          BreakerConfig
	now             func() time.Time
}

func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.Cooldown == 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{state: CircuitClosed, config: config, now: time.Now}
}

func (cb *CircuitBreaker) logStateTransition(from, to CircuitState) {
	if cb.config.Logger != nil {
		cb.config.Logger.Info("circuit_breaker_state_change",
			slog.String("endpoint", cb.config.Endpoint),
			slog.String("from_state", from.String()),
			slog.String("to_state", to.String()),
			slog.Int("failure_count", cb.failureCount),
		)
	}
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.logStateTransition(from, to)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// AllowRequest reports whether a throw may be attempted. An open breaker
// lets a single trial through once the cooldown elapsed.
func (cb *CircuitBreaker) AllowRequest() bool {
	if cb.config.FailureThreshold <= 0 {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.config.Cooldown {
			return false
		}
		cb.setState(CircuitHalfOpen)
		return true
	case CircuitHalfOpen:
		// the trial is in flight
		return false
	}
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	if cb.state != CircuitClosed {
		cb.setState(CircuitClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb.config.FailureThreshold <= 0 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(CircuitOpen)
			cb.failureCount = 0
		}
	}
}
