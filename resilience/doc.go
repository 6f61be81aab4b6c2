// Package resilience provides the concurrency and fault-handling primitives
// that back rivulet's per-item execution pipeline.
//
// Each primitive is independent, and all but Backoff are safe for
// concurrent use after construction; the dispatcher composes them per item in a fixed order
// (semaphore acquisition, rate limit, circuit breaker, timeout, with backoff
// governing the delay between attempts).
//
// # Primitives
//
//   - [CircuitBreaker]: Stops dispatching to a collapsing source after a
//     failure threshold, admitting requests again in HalfOpen once
//     OpenTimeout elapses; the number of HalfOpen requests is not limited.
//     Transitions through Closed -> Open -> HalfOpen -> Closed.
//
//   - [RateLimiter]: Token bucket limiting the rate of operation starts,
//     with burst allowance and an optional blocking Wait.
//
//   - [Semaphore]: A resizable counting semaphore bounding in-flight work.
//     Unlike a fixed worker pool, its capacity can be grown or shrunk while
//     acquisitions are outstanding, including past the value it was
//     constructed with.
//
//   - [AdaptiveController]: Wraps a Semaphore and adjusts its capacity over
//     time from observed success/failure/latency feedback.
//
//   - Backoff ([NewBackoff]): Computes the delay before a retry attempt
//     under one of several named strategies (exponential, linear, jitter
//     variants).
//
//   - [Timeout]: Context-based timeout ensuring a single attempt completes
//     within a bound.
//
// # Quick Start
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    OpenTimeout:      time.Minute,
//	})
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
//
// # Thread Safety
//
// All exported types except Backoff are safe for concurrent use after
// construction (each retry loop owns its own Backoff):
//
//   - [CircuitBreaker]: Allow/Report/Execute/State are mutex-protected
//   - [RateLimiter]: Allow, AllowN, Wait, Execute are mutex-protected
//   - [Semaphore]: Acquire/Release/Resize are mutex+condition-variable guarded
//   - [AdaptiveController]: Observe/Semaphore are mutex-protected
//   - Timeout: stateless, safe for concurrent use
//
// # Error Handling
//
// Each primitive returns specific sentinel errors (use errors.Is for checking):
//
//   - [ErrCircuitOpen]: Circuit breaker is rejecting requests
//   - [ErrRateLimitExceeded]: Rate limit exceeded and no wait configured,
//     or still exceeded after waiting up to MaxWait
//   - [ErrSemaphoreClosed]: Semaphore was closed while a caller waited
//   - [ErrTimeout]: Operation exceeded its configured timeout
//
// # Callbacks and Observability
//
//   - CircuitBreakerConfig.OnStateChange: dispatched asynchronously, outside
//     any lock, on every state transition
//   - CircuitBreakerConfig.IsFailure: custom failure classification
package resilience
