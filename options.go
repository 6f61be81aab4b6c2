package rivulet

import (
	"runtime"
	"time"

	"github.com/rivulet-go/rivulet/internal/diagnose"
	"github.com/rivulet-go/rivulet/resilience"
)

// ErrorMode selects how worker errors are handled across the run.
type ErrorMode int

const (
	// FailFast cancels all in-flight work on the first non-suppressed
	// error and surfaces it to the caller.
	FailFast ErrorMode = iota
	// CollectAndContinue keeps running, collecting every non-suppressed
	// error into a terminal Aggregate.
	CollectAndContinue
	// BestEffort drops every error after invoking on_error; no composite
	// is ever produced.
	BestEffort
)

// RateLimitOptions configures the optional token-bucket admission gate.
type RateLimitOptions struct {
	TokensPerSecond float64
	BurstCapacity   int
	TokensPerOp     int
}

// CircuitBreakerOptions configures the optional circuit breaker.
type CircuitBreakerOptions struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	SamplingWindow   time.Duration
	OnStateChange    func(old, new resilience.State)
}

// AdaptiveConcurrencyOptions configures the optional adaptive controller.
type AdaptiveConcurrencyOptions struct {
	Min            int
	Max            int
	Initial        int
	SampleInterval time.Duration
	MinSuccessRate float64
	TargetLatency  time.Duration
	Strategy       resilience.AdaptiveStrategy
	OnChange       func(old, new int)
}

// Options configures one engine invocation (spec.md §3). It is validated
// once at entry and frozen for the call's duration.
type Options struct {
	// MaxParallelism bounds the number of concurrently in-flight worker
	// invocations. Default: runtime.GOMAXPROCS(0).
	MaxParallelism int

	// ChannelCapacity bounds in-flight-but-unemitted results.
	// Default: MaxParallelism.
	ChannelCapacity int

	// ErrorMode selects FailFast / CollectAndContinue / BestEffort.
	// Default: FailFast.
	ErrorMode ErrorMode

	// MaxRetries is the number of retries after the first attempt.
	// Default: 0 (no retry).
	MaxRetries int

	// BaseDelay is the backoff base delay. Default: 0.
	BaseDelay time.Duration

	// BackoffStrategy selects the retry delay formula.
	// Default: Exponential.
	BackoffStrategy resilience.BackoffStrategy

	// IsTransient classifies an error as retry-worthy.
	// Default: every non-nil error is transient.
	IsTransient func(err error) bool

	// PerItemTimeout, if positive, bounds a single attempt.
	PerItemTimeout time.Duration

	// OrderedOutput, if true, emits results in source order.
	OrderedOutput bool

	// RateLimit enables the token-bucket admission gate.
	RateLimit *RateLimitOptions

	// CircuitBreaker enables the circuit breaker.
	CircuitBreaker *CircuitBreakerOptions

	// AdaptiveConcurrency enables the adaptive concurrency controller,
	// which then supersedes MaxParallelism as the concurrency bound.
	AdaptiveConcurrency *AdaptiveConcurrencyOptions

	// Lifecycle hooks, all optional.
	OnStartItem    func(index int)
	OnCompleteItem func(index int)
	OnRetry        func(index, attempt int, err error)
	OnError        func(index int, err error) bool
	OnThrottle     func(waitingCount int)
	OnDrain        func(inFlightCount int)

	// Clock supplies the current time to the rate limiter and circuit
	// breaker so tests can inject a fake one; the adaptive controller's
	// sampler runs on a real ticker and does not read it.
	// Default: time.Now.
	Clock func() time.Time

	// Logger receives diagnostics for hook and callback panics.
	// Default: a no-op logger.
	Logger diagnose.Logger

	// Counters, if set, receives this call's diagnostic event counts
	// (items_started, items_completed, total_retries, total_failures,
	// throttle_events, drain_events) instead of a call-local instance.
	// Supplying one shared Counters across calls, registered once via
	// its RegisterOTel against a long-lived meter, is how a host
	// process exports these across many Transform*/ForEach calls.
	// Default: a fresh, unexported Counters local to this call.
	Counters *diagnose.Counters
}

// Validate checks the invariants of spec.md §3 in order and returns the
// first violation wrapped as a ConfigurationInvalid *Error, or nil.
// Validate also applies defaults to missing fields; callers should use
// the (possibly mutated) Options it was called on afterward.
func (o *Options) Validate() *Error {
	if o.MaxParallelism <= 0 {
		o.MaxParallelism = runtime.GOMAXPROCS(0)
	}
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = o.MaxParallelism
	}
	if o.IsTransient == nil {
		o.IsTransient = func(err error) bool { return err != nil }
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = diagnose.NewNopLogger()
	}

	if o.MaxRetries < 0 {
		return newError(ConfigurationInvalid, -1, errConfig("max_retries must be >= 0"))
	}
	if o.BaseDelay < 0 {
		return newError(ConfigurationInvalid, -1, errConfig("base_delay must be >= 0"))
	}

	if ac := o.AdaptiveConcurrency; ac != nil {
		if ac.Min < 1 {
			return newError(ConfigurationInvalid, -1, errConfig("adaptive_concurrency.min must be >= 1"))
		}
		if ac.Min > ac.Max {
			return newError(ConfigurationInvalid, -1, errConfig("adaptive_concurrency.min must be <= max"))
		}
		if ac.Initial <= 0 {
			ac.Initial = ac.Min
		}
		if ac.SampleInterval <= 0 {
			ac.SampleInterval = time.Second
		}
		if ac.MinSuccessRate <= 0 {
			ac.MinSuccessRate = 0.9
		}
	}

	if rl := o.RateLimit; rl != nil {
		if rl.TokensPerOp <= 0 {
			rl.TokensPerOp = 1
		}
		if rl.BurstCapacity <= 0 {
			return newError(ConfigurationInvalid, -1, errConfig("rate_limit.burst_capacity must be > 0"))
		}
		if rl.TokensPerOp > rl.BurstCapacity {
			return newError(ConfigurationInvalid, -1, errConfig("rate_limit.tokens_per_op must be <= burst_capacity"))
		}
	}

	if cb := o.CircuitBreaker; cb != nil {
		if cb.FailureThreshold <= 0 {
			return newError(ConfigurationInvalid, -1, errConfig("circuit_breaker.failure_threshold must be > 0"))
		}
		if cb.SuccessThreshold <= 0 {
			cb.SuccessThreshold = 1
		}
		if cb.OpenTimeout <= 0 {
			return newError(ConfigurationInvalid, -1, errConfig("circuit_breaker.open_timeout must be > 0"))
		}
	}

	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }
