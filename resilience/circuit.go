package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures (or, when
	// SamplingWindow is set, the number of failures within the window)
	// before the circuit opens.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in
	// HalfOpen required to close the circuit.
	// Default: 1
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays Open before admitting a
	// HalfOpen probe.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// SamplingWindow, if set, switches failure counting in Closed state
	// from a consecutive-failure counter to a sliding window: a failure
	// timestamp older than the window is discarded before comparing the
	// remaining count against FailureThreshold.
	SamplingWindow time.Duration

	// OnStateChange is called on every state transition. It is invoked
	// asynchronously, outside any lock, fire-and-forget: a slow or
	// panicking callback never blocks or corrupts breaker state.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Clock supplies the current time. Default: time.Now.
	Clock func() time.Time
}

// CircuitBreaker implements the circuit breaker state machine of §4.5.2:
// Closed -> Open on a failure threshold, Open -> HalfOpen after
// OpenTimeout elapses and a request arrives, HalfOpen -> Closed after
// SuccessThreshold consecutive successes, HalfOpen -> Open on any
// failure.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                sync.Mutex
	state             State
	consecutiveFail   int
	consecutiveSucc   int
	openedAt          time.Time
	failureTimestamps []time.Time // only populated when SamplingWindow is set
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := op(ctx)
	cb.Report(err)
	return err
}

// Allow reports whether a request may proceed, admitting a HalfOpen
// probe if the open timeout has elapsed. Callers that use Allow/Report
// directly (rather than Execute) must call Report exactly once per
// admitted Allow.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	state, transitioned, from, to := cb.resolveStateLocked()
	cb.mu.Unlock()

	if transitioned {
		cb.dispatchStateChange(from, to)
	}
	if state == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Report records the outcome of an operation admitted by Allow.
func (cb *CircuitBreaker) Report(err error) {
	cb.mu.Lock()

	_, resolved, resolvedFrom, resolvedTo := cb.resolveStateLocked()

	isFailure := cb.config.IsFailure(err)
	oldState := cb.state

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.recordFailureLocked()
			if cb.failureCountLocked() >= cb.config.FailureThreshold {
				cb.transitionLocked(StateOpen)
			}
		} else {
			cb.consecutiveFail = 0
			cb.failureTimestamps = nil
		}

	case StateHalfOpen:
		if isFailure {
			cb.transitionLocked(StateOpen)
		} else {
			cb.consecutiveSucc++
			if cb.consecutiveSucc >= cb.config.SuccessThreshold {
				cb.transitionLocked(StateClosed)
			}
		}

	case StateOpen:
		// A report against an already-open circuit (e.g. an in-flight
		// request that was admitted just before the circuit opened)
		// carries no further state transition.
	}

	newState := cb.state
	cb.mu.Unlock()

	if resolved {
		cb.dispatchStateChange(resolvedFrom, resolvedTo)
	}
	if oldState != newState {
		cb.dispatchStateChange(oldState, newState)
	}
}

// State returns the current circuit state, resolving an elapsed Open
// timeout into HalfOpen as a side effect, matching Allow's behavior.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	s, transitioned, from, to := cb.resolveStateLocked()
	cb.mu.Unlock()

	if transitioned {
		cb.dispatchStateChange(from, to)
	}
	return s
}

// Reset forces the circuit back to Closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	oldState := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.consecutiveSucc = 0
	cb.failureTimestamps = nil
	cb.mu.Unlock()

	if oldState != StateClosed {
		cb.dispatchStateChange(oldState, StateClosed)
	}
}

// resolveStateLocked must be called with cb.mu held. It resolves an
// Open -> HalfOpen transition lazily, on the next observation, per
// §4.5.2's "Open, request, elapsed >= open_timeout -> HalfOpen (then
// admit)" rule: there's no background timer, the transition happens
// exactly when the next request looks at the state. The caller must
// unlock before acting on a reported transition and dispatch it via
// dispatchStateChange itself — this keeps lock acquisition strictly
// nested with no unlock/relock inside a single critical section.
func (cb *CircuitBreaker) resolveStateLocked() (state State, transitioned bool, from, to State) {
	if cb.state == StateOpen && cb.config.Clock().Sub(cb.openedAt) >= cb.config.OpenTimeout {
		from = cb.state
		cb.transitionLocked(StateHalfOpen)
		return cb.state, true, from, cb.state
	}
	return cb.state, false, cb.state, cb.state
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to State) {
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.config.Clock()
		cb.consecutiveSucc = 0
	case StateHalfOpen:
		cb.consecutiveSucc = 0
	case StateClosed:
		cb.consecutiveFail = 0
		cb.consecutiveSucc = 0
		cb.failureTimestamps = nil
	}
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.consecutiveFail++
	if cb.config.SamplingWindow > 0 {
		now := cb.config.Clock()
		cutoff := now.Add(-cb.config.SamplingWindow)
		kept := cb.failureTimestamps[:0]
		for _, ts := range cb.failureTimestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		cb.failureTimestamps = append(kept, now)
	}
}

func (cb *CircuitBreaker) failureCountLocked() int {
	if cb.config.SamplingWindow > 0 {
		return len(cb.failureTimestamps)
	}
	return cb.consecutiveFail
}

// dispatchStateChange fires OnStateChange in its own goroutine, never
// under cb.mu, and recovers a panicking callback so it cannot take
// down a worker goroutine.
func (cb *CircuitBreaker) dispatchStateChange(from, to State) {
	onChange := cb.config.OnStateChange
	if onChange == nil {
		return
	}
	go func() {
		defer func() { _ = recover() }()
		onChange(from, to)
	}()
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:           cb.state,
		ConsecutiveFail: cb.consecutiveFail,
		ConsecutiveSucc: cb.consecutiveSucc,
		OpenedAt:        cb.openedAt,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State           State
	ConsecutiveFail int
	ConsecutiveSucc int
	OpenedAt        time.Time
}
