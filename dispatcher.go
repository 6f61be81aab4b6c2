package rivulet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rivulet-go/rivulet/internal/diagnose"
	"github.com/rivulet-go/rivulet/resilience"
)

// engineState holds everything one engine invocation owns for its
// lifetime: validated options, the source, the resilience primitives it
// started, and the bookkeeping needed for throttle/drain notifications
// and error-mode handling. It is never reused across invocations (spec
// §3: "no sharing across concurrent engine invocations").
type engineState[T, R any] struct {
	opts   Options
	worker Worker[T, R]
	source Source[T]

	counters   *diagnose.Counters
	aggregator *aggregator

	rateLimiter    *resilience.RateLimiter
	circuitBreaker *resilience.CircuitBreaker
	adaptive       *resilience.AdaptiveController
	fixedSem       *resilience.Semaphore // used when AdaptiveConcurrency is not configured
	timeout        *resilience.Timeout   // nil when PerItemTimeout is unset

	out     *outputChannel[R]
	reorder *reorderBuffer[R]

	waitingMu    sync.Mutex
	waitingCount int64
	inFlight     atomic.Int64
	sourceDone   atomic.Bool
	drainFired   atomic.Bool

	// issuedIndex is only touched from the single dispatch-loop goroutine.
	issuedIndex int
}

func newEngineState[T, R any](opts Options, source Source[T], worker Worker[T, R]) *engineState[T, R] {
	counters := opts.Counters
	if counters == nil {
		counters = diagnose.NewCounters()
	}

	e := &engineState[T, R]{
		opts:       opts,
		worker:     worker,
		source:     source,
		counters:   counters,
		aggregator: newAggregator(opts.ErrorMode, opts.OnError),
		out:        newOutputChannel[R](opts.ChannelCapacity),
	}

	if opts.OrderedOutput {
		e.reorder = newReorderBuffer[R]()
	}

	if opts.PerItemTimeout > 0 {
		e.timeout = resilience.NewTimeout(resilience.TimeoutConfig{Timeout: opts.PerItemTimeout})
	}

	if opts.RateLimit != nil {
		e.rateLimiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        opts.RateLimit.TokensPerSecond,
			Burst:       opts.RateLimit.BurstCapacity,
			WaitOnLimit: true,
			Clock:       opts.Clock,
		})
	}

	if opts.CircuitBreaker != nil {
		cbOpts := opts.CircuitBreaker
		e.circuitBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cbOpts.FailureThreshold,
			SuccessThreshold: cbOpts.SuccessThreshold,
			OpenTimeout:      cbOpts.OpenTimeout,
			SamplingWindow:   cbOpts.SamplingWindow,
			Clock:            opts.Clock,
			OnStateChange: func(old, new resilience.State) {
				if cbOpts.OnStateChange != nil {
					e.safeCall(func() { cbOpts.OnStateChange(old, new) })
				}
			},
		})
	}

	if opts.AdaptiveConcurrency != nil {
		acOpts := opts.AdaptiveConcurrency
		e.adaptive = resilience.NewAdaptiveController(resilience.AdaptiveControllerConfig{
			MinConcurrency:     int64(acOpts.Min),
			MaxConcurrency:     int64(acOpts.Max),
			InitialConcurrency: int64(acOpts.Initial),
			SampleInterval:     acOpts.SampleInterval,
			MinSuccessRate:     acOpts.MinSuccessRate,
			TargetLatency:      acOpts.TargetLatency,
			Strategy:           acOpts.Strategy,
			Clock:              opts.Clock,
			OnChange: func(old, new int64) {
				if acOpts.OnChange != nil {
					e.safeCall(func() { acOpts.OnChange(int(old), int(new)) })
				}
			},
		})
	} else {
		e.fixedSem = resilience.NewSemaphore(int64(opts.MaxParallelism))
	}

	return e
}

func (e *engineState[T, R]) semaphore() *resilience.Semaphore {
	if e.adaptive != nil {
		return e.adaptive.Semaphore()
	}
	return e.fixedSem
}

func (e *engineState[T, R]) stopPrimitives() {
	if e.adaptive != nil {
		e.adaptive.Stop()
	}
	if e.fixedSem != nil {
		e.fixedSem.Close()
	}
}

// safeCall invokes a user hook, catching a panic at the hook boundary and
// reporting it via the diagnostic logger instead of letting it propagate
// and take down a worker goroutine (spec §5: "callback exceptions are
// caught at the boundary, logged via an engine-level diagnostic event").
func (e *engineState[T, R]) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Error("hook panicked", diagnose.Field{Key: "recover", Value: r})
		}
	}()
	fn()
}

// noteWaiting tracks the count of items currently blocked acquiring a
// concurrency permit, firing on_throttle exactly on the 0 -> positive
// transition (spec §4.3 step 5).
func (e *engineState[T, R]) noteWaitingStart() {
	e.waitingMu.Lock()
	e.waitingCount++
	n := e.waitingCount
	e.waitingMu.Unlock()

	if n == 1 {
		e.counters.ThrottleEvents.Add(1)
		if e.opts.OnThrottle != nil {
			e.safeCall(func() { e.opts.OnThrottle(int(n)) })
		}
	}
}

func (e *engineState[T, R]) noteWaitingEnd() {
	e.waitingMu.Lock()
	e.waitingCount--
	e.waitingMu.Unlock()
}

// noteInFlightDone decrements the in-flight count and fires on_drain
// exactly once, the first time it reaches zero after the source is
// exhausted (spec §4.3 step 5, §8 invariant 10).
func (e *engineState[T, R]) noteInFlightDone() {
	n := e.inFlight.Add(-1)
	if n == 0 && e.sourceDone.Load() && e.drainFired.CompareAndSwap(false, true) {
		e.counters.DrainEvents.Add(1)
		if e.opts.OnDrain != nil {
			e.safeCall(func() { e.opts.OnDrain(0) })
		}
	}
}

// run drives the dispatch loop of spec.md §4.3: acquire a permit, await a
// rate-limit token, pull the next source item, spawn a worker, repeat
// until the source is exhausted, then wait for every spawned worker to
// finish before closing the output channel.
func (e *engineState[T, R]) run(ctx context.Context) {
	defer e.out.close()
	defer e.stopPrimitives()

	// Worker outcomes flow through the output channel / aggregator, never
	// as an error returned to the group, so a plain errgroup.Group is
	// enough: it exists here purely as the join point spec §5 requires
	// on every exit path. runCtx is the single cancellation signal
	// FailFast uses to unwind all in-flight work.
	var group errgroup.Group
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

dispatchLoop:
	for {
		select {
		case <-runCtx.Done():
			break dispatchLoop
		default:
		}

		sem := e.semaphore()
		if !sem.TryAcquire() {
			e.noteWaitingStart()
			acquireErr := sem.Acquire(runCtx)
			e.noteWaitingEnd()
			if acquireErr != nil {
				break dispatchLoop
			}
		}

		if e.rateLimiter != nil {
			if err := e.rateLimiter.Acquire(runCtx, e.opts.RateLimit.TokensPerOp); err != nil {
				sem.Release()
				break dispatchLoop
			}
		}

		item, ok, srcErr := e.source.TryNext(runCtx)
		if srcErr != nil {
			sem.Release()
			// A source that returns ctx.Err() (FromChan/FromSeq/FromSlice
			// all do, since they select on ctx.Done()) is reporting the
			// caller's own cancellation, not a genuine production failure;
			// that must surface as Cancelled, not SourceError (spec §7).
			kind := SourceError
			if runCtx.Err() != nil && errors.Is(srcErr, runCtx.Err()) {
				kind = Cancelled
			}
			e.publishTerminal(runCtx, newError(kind, -1, srcErr))
			break dispatchLoop
		}
		if !ok {
			sem.Release()
			break dispatchLoop
		}

		idx := e.nextIndex()
		e.inFlight.Add(1)
		e.counters.ItemsStarted.Add(1)
		if e.opts.OnStartItem != nil {
			e.safeCall(func() { e.opts.OnStartItem(idx) })
		}

		payload := item
		index := idx
		group.Go(func() error {
			defer sem.Release()
			defer e.noteInFlightDone()

			result := runWorker(runCtx, e, index, payload)

			e.counters.ItemsCompleted.Add(1)
			if result.err != nil {
				e.counters.TotalFailures.Add(1)
			}

			if e.opts.OnCompleteItem != nil {
				e.safeCall(func() { e.opts.OnCompleteItem(index) })
			}

			terminate := e.publishOutcome(runCtx, index, result)
			if terminate {
				cancelRun()
			}
			return nil
		})
	}

	e.sourceDone.Store(true)
	if e.inFlight.Load() == 0 && e.drainFired.CompareAndSwap(false, true) {
		e.counters.DrainEvents.Add(1)
		if e.opts.OnDrain != nil {
			e.safeCall(func() { e.opts.OnDrain(0) })
		}
	}

	_ = group.Wait()
}

// nextIndex hands out strictly monotonic indices. It is only ever called
// from the single dispatch-loop goroutine, so no synchronization is
// needed beyond a plain field.
func (e *engineState[T, R]) nextIndex() int {
	idx := e.issuedIndex
	e.issuedIndex++
	return idx
}

// publishOutcome routes a completed worker outcome through the error
// aggregator and either the direct output channel or the reorder buffer,
// returning true if FailFast just latched its terminal error and the run
// must now cancel.
func (e *engineState[T, R]) publishOutcome(ctx context.Context, index int, result outcome[R]) (terminate bool) {
	if result.err == nil {
		e.emit(ctx, index, false, result)
		return false
	}

	if result.err.Kind == Cancelled {
		// Cancellation is terminal regardless of error mode (spec §4.7's
		// closing line) and is never handed to on_error / suppression.
		e.emit(ctx, index, true, result)
		return true
	}

	suppress, mustTerminate := e.aggregator.handle(index, result.err)
	e.emit(ctx, index, suppress, result)
	return mustTerminate
}

func (e *engineState[T, R]) emit(ctx context.Context, index int, skip bool, result outcome[R]) {
	if e.reorder == nil {
		if !skip {
			_ = e.out.publish(ctx, result)
		}
		return
	}

	_ = e.reorder.put(index, skip, result, func(o outcome[R]) error {
		return e.out.publish(ctx, o)
	})
}

func (e *engineState[T, R]) publishTerminal(ctx context.Context, err *Error) {
	_ = e.out.publish(ctx, outcome[R]{index: -1, err: err})
}
