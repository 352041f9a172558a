// Package circuitbreaker stops hammering an external dependency (attestation API, RPC node)
// after repeated failures and tries it again once a reset delay has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Allow and Execute while the circuit is open
var ErrOpen = errors.New("circuit breaker open: dependency unavailable")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, calls are rejected
	StateHalfOpen              // Probing whether the dependency recovered
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

// CircuitBreaker counts consecutive failures of one dependency
type CircuitBreaker struct {
	name string

	// Consecutive failures that trip the circuit
	failureThreshold int

	state State

	// Timestamp of the last circuit trip
	lastTrip time.Time

	// Duration before a half-open trial request is allowed
	resetDelay time.Duration

	mu sync.Mutex

	failures int

	// Count of consecutive successful operations in HalfOpen state
	successCount int

	// Number of successful operations required to close circuit
	successThreshold int

	onTripCallback func(name string, lastErr error)

	now func() time.Time
}

// New creates a breaker for the named dependency
func New(name string, failureThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		state:            StateClosed,
		resetDelay:       time.Minute,
		successThreshold: 1,
		now:              time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful trial requests needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	if threshold > 0 {
		cb.successThreshold = threshold
	}
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(name string, lastErr error)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithClock replaces the time source
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Name returns the dependency name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. An open circuit moves to half-open once
// the reset delay has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastTrip) < cb.resetDelay {
			return ErrOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.WithField("dependency", cb.name).Info("Circuit breaker half-open: testing dependency recovery")
	}
	return nil
}

// Success records a successful call
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.WithField("dependency", cb.name).Info("Circuit breaker closed: dependency has recovered")
		}
	}
}

// Failure records a failed call and trips the circuit when the threshold is reached.
// A failure while half-open trips immediately.
func (cb *CircuitBreaker) Failure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.trip(err)
	}
}

// Execute runs fn under the breaker
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		cb.Failure(err)
		return err
	}
	cb.Success()
	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	logrus.WithField("dependency", cb.name).Info("Circuit breaker manually reset to closed state")
}

// trip must be called with mu held
func (cb *CircuitBreaker) trip(lastErr error) {
	cb.state = StateOpen
	cb.lastTrip = cb.now()
	cb.failures = 0
	cb.successCount = 0
	logrus.WithFields(logrus.Fields{
		"dependency": cb.name,
		"error":      lastErr,
	}).Warn("Circuit breaker tripped")

	if cb.onTripCallback != nil {
		go cb.onTripCallback(cb.name, lastErr)
	}
}
