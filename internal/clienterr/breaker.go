package clienterr

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (cs CircuitState) String() string {
	switch cs {
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

// BreakerSettings configures a CircuitBreaker.
type BreakerSettings struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // how long the circuit stays open
	HalfOpenRequests int           // successful probes required to close again
}

// DefaultBreakerSettings returns the settings used when none are configured.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenRequests: 2,
	}
}

// CircuitBreaker implements the circuit breaker pattern around repeatedly
// failing operations. Open circuits reject calls until the recovery timeout
// elapses, then admit a limited number of probes before closing again.
type CircuitBreaker struct {
	name     string
	settings BreakerSettings

	mu        sync.Mutex
	state     CircuitState
	failures  int
	probes    int
	nextRetry time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(name string, settings BreakerSettings) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings = DefaultBreakerSettings()
	}
	return &CircuitBreaker{
		name:     name,
		settings: settings,
		state:    CircuitClosed,
	}
}

// Call executes fn through the circuit breaker. A rejected call returns a
// ClassifiedError of type circuit_open without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return New(ErrorTypeCircuit, "circuit_breaker", cb.name,
			fmt.Errorf("circuit breaker is open for %s", cb.name))
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// allowRequest checks whether a call may proceed, transitioning an expired
// open circuit into half-open probing.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Now().Before(cb.nextRetry) {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probes = 0
		return true
	case CircuitHalfOpen:
		return cb.probes < cb.settings.HalfOpenRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		switch cb.state {
		case CircuitClosed:
			if cb.failures >= cb.settings.FailureThreshold {
				cb.open()
			}
		case CircuitHalfOpen:
			cb.open()
		}
		return
	}

	switch cb.state {
	case CircuitHalfOpen:
		cb.probes++
		if cb.probes >= cb.settings.HalfOpenRequests {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.probes = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.probes = 0
	cb.nextRetry = time.Now().Add(cb.settings.RecoveryTimeout)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LinearBackoff implements a simple linear backoff strategy.
type LinearBackoff struct {
	Interval time.Duration
	Max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval.
func (lb *LinearBackoff) NextBackOff() time.Duration {
	if lb.current == 0 {
		lb.current = lb.Interval
	} else {
		lb.current += lb.Interval
	}
	if lb.Max > 0 && lb.current > lb.Max {
		lb.current = lb.Max
	}
	return lb.current
}

// Reset resets the backoff to its initial state.
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy.
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter applied.
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	jitter := float64(next) * 0.1
	offset := (2.0*float64(time.Now().UnixNano()%1000)/1000.0 - 1.0) * jitter
	return next + time.Duration(offset)
}
