package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open and its
	// open timeout has not yet elapsed.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded is returned when a non-blocking rate-limit
	// acquisition could not collect enough tokens, or when Wait/WaitN
	// still lacks them after waiting up to MaxWait.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrSemaphoreClosed is returned when Acquire is called on a semaphore
	// that has already been closed.
	ErrSemaphoreClosed = errors.New("resilience: semaphore closed")
)
