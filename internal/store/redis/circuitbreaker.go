package redis

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the reset timeout elapses
	StateHalfOpen State = 2 // one probe call allowed
)

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

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("redis circuit breaker is open")

// CircuitBreaker guards calls to Redis. After maxFailures consecutive
// failures it opens and rejects calls for resetTimeout, then lets a single
// probe through. A successful probe closes it again; a failed one reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	trips        int
	probing      bool
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time

	// OnStateChange is called with the lock held; it must not call back
	// into the breaker.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is open. fn's error counts as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	cb.probing = false

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if wasProbe || cb.failures >= cb.maxFailures {
			cb.trips++
			cb.transition(StateOpen)
		}
		return
	}

	if wasProbe {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

// CurrentState returns the current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Trips returns how many times the breaker has opened.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
