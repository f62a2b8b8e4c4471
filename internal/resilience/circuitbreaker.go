// Package resilience guards calls to remote transcription and summarization
// services with a circuit breaker.
//
// A consultation makes exactly one call to each service and never retries
// it. When a service is down, the breaker lets the clinician learn that
// immediately on the next session instead of waiting for another timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen matches (via errors.Is) every [*OpenError].
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned by [CircuitBreaker.Execute] while the breaker is open.
type OpenError struct {
	// Name is the breaker's label.
	Name string

	// RetryAfter is how long until a probe call will be let through.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: %v (retry in %s)", e.Name, ErrCircuitOpen, e.RetryAfter.Round(time.Second))
}

// Is reports whether target is [ErrCircuitOpen].
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a single probe call through. Its outcome decides
	// whether the breaker closes or re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages and errors.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// probe. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange, when set, is called after every transition. It runs
	// with the breaker unlocked.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probing         bool
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
	}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and records the outcome.
//
// Errors caused by ctx ending (cancellation during shutdown) are returned
// but not counted against the service. A deadline set by the caller
// inside fn that expires does count, since that means the service was too
// slow.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	switch {
	case err == nil:
		cb.settle(callSucceeded)
	case ctx.Err() != nil:
		cb.settle(callAbandoned)
	default:
		cb.settle(callFailed)
	}
	return err
}

// admit decides whether a call may proceed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	var changed bool
	switch cb.state {
	case StateOpen:
		wait := cb.resetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			cb.mu.Unlock()
			return &OpenError{Name: cb.name, RetryAfter: wait}
		}
		cb.state = StateHalfOpen
		cb.probing = true
		changed = true
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return &OpenError{Name: cb.name}
		}
		cb.probing = true
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(StateOpen, StateHalfOpen)
	}
	return nil
}

type callOutcome int

const (
	callSucceeded callOutcome = iota
	callFailed
	// callAbandoned says nothing about the service: a half-open probe slot
	// is released and the counters stay as they are.
	callAbandoned
)

// settle records a call outcome.
func (cb *CircuitBreaker) settle(outcome callOutcome) {
	cb.mu.Lock()
	from := cb.state
	cb.probing = false
	switch outcome {
	case callAbandoned:
	case callSucceeded:
		cb.consecutiveFail = 0
		cb.state = StateClosed
	default:
		cb.consecutiveFail++
		if from == StateHalfOpen || cb.consecutiveFail >= cb.maxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	}
	to, fails := cb.state, cb.consecutiveFail
	cb.mu.Unlock()

	if from == to {
		return
	}
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", fails)
	case StateClosed:
		slog.Info("circuit breaker closed", "name", cb.name)
	}
	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State] of the breaker. An open breaker whose
// reset timeout has elapsed reports [StateHalfOpen]; the transition itself
// happens on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Check returns an [*OpenError] while the breaker rejects calls, nil
// otherwise. It is shaped for use as a readiness check.
func (cb *CircuitBreaker) Check(context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if wait := cb.resetTimeout - cb.now().Sub(cb.openedAt); wait > 0 {
		return &OpenError{Name: cb.name, RetryAfter: wait}
	}
	return nil
}

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probing = false
	cb.mu.Unlock()

	slog.Info("circuit breaker manually reset", "name", cb.name)
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
