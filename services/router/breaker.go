package router

import (
	"sync"
	"time"
)

// CircuitState is the per-provider breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Clock abstracts time for deterministic breaker tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Breaker is one provider's circuit breaker. The state is shared by every
// concurrent request that touches the provider; all transitions happen under
// the breaker mutex so no update is lost.
type Breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	failureThreshold int
	cooldown         time.Duration
	clock            Clock
}

// NewBreaker creates a closed breaker.
func NewBreaker(failureThreshold int, cooldown time.Duration, clock Clock) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		clock:            clock,
	}
}

// Allow reports whether a call may proceed. An OPEN breaker whose cool-down
// has elapsed transitions to HALF_OPEN and admits exactly one probe; further
// callers are held back until that probe reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = CircuitHalfOpen
			b.probing = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure counter and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = CircuitClosed
	b.probing = false
}

// RecordFailure counts a failure. A HALF_OPEN probe failure reopens
// immediately; a CLOSED breaker opens at the failure threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.state == CircuitHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		b.state = CircuitOpen
		b.openedAt = b.clock.Now()
	}
	b.probing = false
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
