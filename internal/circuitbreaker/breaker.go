// Package circuitbreaker stops delivering to a notification target after
// repeated failures and tries it again once a cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type target struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks failures per target key, typically a webhook URL.
type CircuitBreaker struct {
	mu        sync.Mutex
	targets   map[string]*target
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		targets:   make(map[string]*target),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

// Allow reports whether a delivery to key may proceed. After the cooldown a
// single trial call is let through; further calls fail until it is recorded.
func (cb *CircuitBreaker) Allow(key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	t, ok := cb.targets[key]
	if !ok {
		return nil
	}

	switch t.state {
	case StateOpen:
		if cb.clock().Sub(t.openedAt) >= cb.cooldown {
			t.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	t, ok := cb.targets[key]
	if !ok {
		return
	}
	t.state = StateClosed
	t.consecutiveFailures = 0
}

// RecordFailure opens the circuit at the threshold. A failed half-open trial
// reopens it immediately.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	t, ok := cb.targets[key]
	if !ok {
		t = &target{state: StateClosed}
		cb.targets[key] = t
	}

	t.consecutiveFailures++
	if t.state == StateHalfOpen || t.consecutiveFailures >= cb.threshold {
		t.state = StateOpen
		t.openedAt = cb.clock()
	}
}

// State returns the current state for key without side effects.
func (cb *CircuitBreaker) State(key string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	t, ok := cb.targets[key]
	if !ok {
		return StateClosed
	}
	return t.state
}
