// Package rivulet provides async parallel operators for I/O-heavy work
// over a finite, ordered sequence of inputs: transform-to-slice,
// transform-to-stream, and for-each, each running a user-supplied worker
// under bounded concurrency with retry, per-item timeout, an optional
// circuit breaker, rate limiter, and adaptive concurrency controller.
//
// Rivulet is not a general task queue: sources are finite and consumed
// once per call, and every result (or failure) is addressed by the index
// of its originating input.
//
// # Quick Start
//
//	results, err := rivulet.TransformToSlice(ctx,
//	    rivulet.FromSlice(urls),
//	    func(ctx context.Context, url string) (*http.Response, error) {
//	        return http.Get(url)
//	    },
//	    rivulet.Options{
//	        MaxParallelism: 16,
//	        MaxRetries:     3,
//	        BaseDelay:      100 * time.Millisecond,
//	        BackoffStrategy: resilience.ExponentialJitter,
//	    },
//	)
//
// # Entry Points
//
//   - [TransformToSlice]: Runs worker over every item and returns the full
//     result list, or the first/aggregate failure.
//   - [TransformToStream]: Same, but as a lazy iter.Seq2[R, error] that a
//     caller can range over and break out of early.
//   - [ForEach]: Runs worker for its side effects only, discarding values.
//
// # Error Modes
//
// [Options.ErrorMode] governs what happens when a worker returns a
// terminal error after exhausting its retries:
//
//   - [FailFast]: The first unsuppressed error cancels every other
//     in-flight item and is returned once those items have finished.
//   - [CollectAndContinue]: Every item runs to completion; all terminal
//     errors are folded into one [Aggregate] error returned at the end.
//   - [BestEffort]: Failed items are dropped silently from the output;
//     only successes are ever surfaced.
//
// Errors carry a [Kind] ([ConfigurationInvalid], [SourceError],
// [UserError], [Timeout], [CircuitOpen], [Cancelled], [Aggregate]) and
// support errors.Is against the package's sentinel values.
//
// # Ordering and Backpressure
//
// [Options.OrderedOutput] controls whether results are delivered in
// input order (buffering out-of-order completions internally) or as
// soon as each item finishes. Either way, the output channel is bounded
// by [Options.ChannelCapacity]: a worker that finishes while the consumer
// is behind blocks on publish, which transitively throttles how fast
// new items are dispatched. In ordered mode, completions that are waiting
// for an earlier index are parked in a buffer that has no size bound.
//
// # Resilience
//
// [Options.RateLimit], [Options.CircuitBreaker], and
// [Options.AdaptiveConcurrency] wire in the primitives from
// [github.com/rivulet-go/rivulet/resilience]: a token-bucket limiter
// gating operation starts, a circuit breaker gating attempts on a
// collapsing worker, and a controller that grows or shrinks the
// concurrency bound itself from observed success rate and latency.
// AdaptiveConcurrency, when set, replaces the fixed
// [Options.MaxParallelism] bound with the controller's semaphore;
// RateLimit and CircuitBreaker apply on top of whichever bound is in
// effect.
//
// # Thread Safety
//
// A [Source] is consumed by a single dispatch goroutine and need not be
// safe for concurrent use by callers. A [Worker] may be invoked
// concurrently from multiple goroutines and must be safe for that.
// Every exported type here is otherwise used single-shot: one
// [Options] plus one [Source] per Transform*/ForEach call.
//
// # Diagnostics
//
// [Options.Logger] accepts a logger from
// [github.com/rivulet-go/rivulet/internal/diagnose]; six lock-free
// counters (items started/completed, retries, failures, throttle and
// drain events) are always tracked internally and can be exported
// through an OpenTelemetry meter via that package's Counters type.
package rivulet
