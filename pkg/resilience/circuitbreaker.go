package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until OpenTimeout has passed.
	StateOpen
	// StateHalfOpen lets a probe through; its outcome closes or reopens.
	StateHalfOpen
)

// String returns the metric label of the state.
func (s State) String() string {
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

// ErrCircuitBreakerOpen is returned for calls rejected by an open breaker.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	// Name labels the breaker's metrics.
	Name string
	// MaxFailures consecutive failures open the breaker. Defaults to 5.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open. Defaults to 30s.
	OpenTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *BreakerConfig) normalize() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker stops calling a dependency after repeated failures.
type CircuitBreaker struct {
	config BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg.normalize()
	cb := &CircuitBreaker{config: cfg, state: StateClosed}
	recordState(cfg.Name, StateClosed)
	return cb
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		recordRejected(cb.config.Name)
		return ErrCircuitBreakerOpen
	}
	if err := fn(); err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.openedAt = cb.config.Now()
		cb.failures = 0
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.state = to
	recordState(cb.config.Name, to)
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failures counted while closed.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.transition(StateClosed)
}
