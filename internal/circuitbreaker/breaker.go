// Package circuitbreaker guards the external report generator. The AI
// pipeline behind it can brown out per tenant (model quota, document
// backlog), so state is tracked per workspace.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("generator circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type keyState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*keyState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*keyState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow reports whether a generator call for the workspace may proceed.
// An open circuit transitions to half-open after the cooldown, admitting a
// single probe call.
func (cb *CircuitBreaker) Allow(workspace string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[workspace]
	if !ok {
		return nil
	}

	switch s.state {
	case stateClosed:
		return nil
	case stateOpen:
		if cb.now().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(workspace string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[workspace]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(workspace string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[workspace]
	if !ok {
		s = &keyState{}
		cb.states[workspace] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.now()
	}
}
