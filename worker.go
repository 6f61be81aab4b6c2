package rivulet

import (
	"context"
	"errors"
	"time"

	"github.com/rivulet-go/rivulet/resilience"
)

// Worker is the user-supplied per-item function (spec §6: "worker
// signature: (item, cancel) -> async result").
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

// runWorker executes the per-item attempt loop of spec.md §4.4: check
// cancellation, gate on the circuit breaker, invoke the user function
// under a per-item timeout, and on transient error retry with backoff
// until max_retries is exhausted.
func runWorker[T, R any](ctx context.Context, e *engineState[T, R], idx int, item T) outcome[R] {
	attempt := 0
	var zero R

	var backoff *resilience.Backoff
	if e.opts.MaxRetries > 0 {
		backoff = resilience.NewBackoff(e.opts.BackoffStrategy, e.opts.BaseDelay, nil)
	}

	for {
		select {
		case <-ctx.Done():
			return outcome[R]{index: idx, err: newError(Cancelled, idx, ctx.Err())}
		default:
		}

		if e.circuitBreaker != nil {
			if allowErr := e.circuitBreaker.Allow(); allowErr != nil {
				return outcome[R]{index: idx, err: newError(CircuitOpen, idx, allowErr)}
			}
		}

		attemptStart := time.Now()
		result, err := e.invokeWithTimeout(ctx, idx, item)

		if e.circuitBreaker != nil {
			e.circuitBreaker.Report(err)
		}
		if e.adaptive != nil {
			e.adaptive.Observe(err == nil, time.Since(attemptStart))
		}

		if err == nil {
			return outcome[R]{index: idx, value: result}
		}

		kind := UserError
		switch {
		case err == resilience.ErrTimeout:
			kind = Timeout
		case errors.Is(err, context.Canceled):
			kind = Cancelled
		}
		wrapped := newError(kind, idx, err)

		if kind == Cancelled {
			return outcome[R]{index: idx, value: zero, err: wrapped}
		}

		if attempt < e.opts.MaxRetries && e.opts.IsTransient(err) {
			attempt++
			e.counters.TotalRetries.Add(1)
			if e.opts.OnRetry != nil {
				e.safeCall(func() { e.opts.OnRetry(idx, attempt, wrapped) })
			}

			delay := backoff.Next(attempt)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return outcome[R]{index: idx, err: newError(Cancelled, idx, ctx.Err())}
				case <-timer.C:
				}
			}
			continue
		}

		return outcome[R]{index: idx, value: zero, err: wrapped}
	}
}

// invokeWithTimeout runs the user function, merging the per-item timeout
// into one effective cancellation signal (spec §4.4's closing paragraph)
// via the shared resilience.Timeout wrapper, which already distinguishes a
// deadline (ErrTimeout) from the parent context simply being cancelled
// (context.Canceled passed straight through).
func (e *engineState[T, R]) invokeWithTimeout(ctx context.Context, idx int, item T) (R, error) {
	if e.timeout == nil {
		return e.worker(ctx, item)
	}

	var result R
	err := e.timeout.Execute(ctx, func(timeoutCtx context.Context) error {
		v, err := e.worker(timeoutCtx, item)
		result = v
		return err
	})
	return result, err
}
