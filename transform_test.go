package rivulet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rivulet-go/rivulet/resilience"
)

// S1 — happy path, unordered: result multiset matches regardless of
// completion order.
func TestTransformToSlice_HappyPathUnordered(t *testing.T) {
	worker := func(ctx context.Context, x int) (int, error) { return x * 2, nil }

	results, err := TransformToSlice(context.Background(),
		FromSlice([]int{1, 2, 3, 4, 5}), worker,
		Options{MaxParallelism: 2})
	if err != nil {
		t.Fatalf("TransformToSlice() error = %v", err)
	}

	sort.Ints(results)
	want := []int{2, 4, 6, 8, 10}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("results = %v, want %v", results, want)
		}
	}
}

// S2 — ordered output with varying per-item latency: result sequence
// matches source order even though completion order is reversed.
func TestTransformToSlice_OrderedVaryingLatency(t *testing.T) {
	worker := func(ctx context.Context, x int) (int, error) {
		time.Sleep(time.Duration(4-x) * 20 * time.Millisecond)
		return x, nil
	}

	results, err := TransformToSlice(context.Background(),
		FromSlice([]int{1, 2, 3}), worker,
		Options{MaxParallelism: 3, OrderedOutput: true})
	if err != nil {
		t.Fatalf("TransformToSlice() error = %v", err)
	}

	want := []int{1, 2, 3}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("results = %v, want %v", results, want)
		}
	}
}

// S3 — retry then succeed: exactly 3 invocations, on_retry fired twice.
func TestTransformToSlice_RetryThenSucceed(t *testing.T) {
	var invocations atomic.Int64
	var retries []int
	var mu sync.Mutex

	worker := func(ctx context.Context, x int) (int, error) {
		n := invocations.Add(1)
		if n < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}

	results, err := TransformToSlice(context.Background(),
		FromSlice([]int{1}), worker,
		Options{
			MaxParallelism: 1,
			MaxRetries:     3,
			BaseDelay:      10 * time.Millisecond,
			BackoffStrategy: resilience.Exponential,
			OnRetry: func(index, attempt int, err error) {
				mu.Lock()
				retries = append(retries, attempt)
				mu.Unlock()
			},
		})
	if err != nil {
		t.Fatalf("TransformToSlice() error = %v", err)
	}

	if len(results) != 1 || results[0] != 42 {
		t.Fatalf("results = %v, want [42]", results)
	}
	if invocations.Load() != 3 {
		t.Errorf("invocations = %d, want 3", invocations.Load())
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("on_retry attempts = %v, want [1 2]", retries)
	}
}

// S4 — FailFast: the engine returns the error from the failing index,
// and cancellation limits further invocations.
func TestTransformToSlice_FailFast(t *testing.T) {
	var invocations atomic.Int64

	items := make([]int, 100)
	for i := range items {
		items[i] = i + 1
	}

	worker := func(ctx context.Context, x int) (int, error) {
		invocations.Add(1)
		if x == 5 {
			return 0, errors.New("boom at 5")
		}
		return x, nil
	}

	_, err := TransformToSlice(context.Background(),
		FromSlice(items), worker,
		Options{MaxParallelism: 4, ErrorMode: FailFast})

	if err == nil {
		t.Fatal("TransformToSlice() error = nil, want the failure from index 4")
	}
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if rerr.Index != 4 {
		t.Errorf("error.Index = %d, want 4 (0-based index of value 5)", rerr.Index)
	}

	if n := invocations.Load(); n > int64(4+4+1) {
		t.Errorf("invocations = %d, want <= max_parallelism + index_of_first_error + 1 (9)", n)
	}
}

// S5 — CollectAndContinue: successes stream through, then a terminal
// Aggregate with one entry per failing index.
func TestTransformToStream_CollectAndContinue(t *testing.T) {
	worker := func(ctx context.Context, x int) (int, error) {
		if x%2 == 0 {
			return 0, errors.New("even")
		}
		return x, nil
	}

	var successes []int
	var finalErr error

	seq := TransformToStream(context.Background(),
		FromSlice([]int{1, 2, 3, 4}), worker,
		Options{MaxParallelism: 4, ErrorMode: CollectAndContinue})

	for v, err := range seq {
		if err != nil {
			finalErr = err
			break
		}
		successes = append(successes, v)
	}

	sort.Ints(successes)
	if len(successes) != 2 || successes[0] != 1 || successes[1] != 3 {
		t.Fatalf("successes = %v, want [1 3]", successes)
	}

	var rerr *Error
	if !errors.As(finalErr, &rerr) || rerr.Kind != Aggregate {
		t.Fatalf("final error = %v, want an Aggregate", finalErr)
	}
	if len(rerr.Errors) != 2 {
		t.Fatalf("aggregate entries = %d, want 2", len(rerr.Errors))
	}
}

// S6 — circuit opens: after failure_threshold consecutive failures, the
// circuit rejects with CircuitOpen until the open timeout elapses.
func TestTransformToSlice_CircuitOpens(t *testing.T) {
	items := make([]int, 20)
	for i := range items {
		items[i] = i + 1
	}

	worker := func(ctx context.Context, x int) (int, error) {
		return 0, errors.New("always fails")
	}

	_, err := TransformToSlice(context.Background(),
		FromSlice(items), worker,
		Options{
			MaxParallelism: 1,
			ErrorMode:      CollectAndContinue,
			CircuitBreaker: &CircuitBreakerOptions{
				FailureThreshold: 3,
				SuccessThreshold: 1,
				OpenTimeout:      50 * time.Millisecond,
			},
		})

	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != Aggregate {
		t.Fatalf("error = %v, want an Aggregate", err)
	}

	var userErrors, circuitOpen int
	for _, e := range rerr.Errors {
		switch e.Kind {
		case UserError:
			userErrors++
		case CircuitOpen:
			circuitOpen++
		}
	}

	if userErrors < 3 {
		t.Errorf("UserError count = %d, want >= 3", userErrors)
	}
	if circuitOpen == 0 {
		t.Error("CircuitOpen count = 0, want at least one rejected item while open")
	}
}

func TestForEach_RunsForSideEffectsOnly(t *testing.T) {
	var sum atomic.Int64

	err := ForEach(context.Background(),
		FromSlice([]int{1, 2, 3}),
		func(ctx context.Context, x int) (struct{}, error) {
			sum.Add(int64(x))
			return struct{}{}, nil
		},
		Options{MaxParallelism: 2})

	if err != nil {
		t.Fatalf("ForEach() error = %v", err)
	}
	if sum.Load() != 6 {
		t.Errorf("sum = %d, want 6", sum.Load())
	}
}

func TestTransformToSlice_ConfigurationInvalid(t *testing.T) {
	_, err := TransformToSlice(context.Background(),
		FromSlice([]int{1}),
		func(ctx context.Context, x int) (int, error) { return x, nil },
		Options{MaxRetries: -1})

	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != ConfigurationInvalid {
		t.Fatalf("error = %v, want ConfigurationInvalid", err)
	}
}

func TestTransformToSlice_RespectsConcurrencyBound(t *testing.T) {
	var active atomic.Int64
	var maxActive atomic.Int64

	items := make([]int, 20)
	worker := func(ctx context.Context, x int) (int, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return x, nil
	}

	_, err := TransformToSlice(context.Background(),
		FromSlice(items), worker,
		Options{MaxParallelism: 3})
	if err != nil {
		t.Fatalf("TransformToSlice() error = %v", err)
	}

	if maxActive.Load() > 3 {
		t.Errorf("max concurrent invocations = %d, want <= 3", maxActive.Load())
	}
}

func TestTransformToSlice_CancellationIsLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	items := make([]int, 1000)
	worker := func(ctx context.Context, x int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
			return x, nil
		}
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := TransformToSlice(ctx, FromSlice(items), worker, Options{MaxParallelism: 4})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("TransformToSlice() error = nil, want a cancellation error")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("returned after %v, want well under the 1s worker sleep", elapsed)
	}
}

// Rate bound (spec §8 invariant 5): with a token bucket admitting fewer
// items than max_parallelism would otherwise allow, and tokens_per_op
// consumed per admission, worker invocations cannot outrun the bucket
// even when every worker finishes instantly.
func TestTransformToSlice_RateLimitBoundsAdmission(t *testing.T) {
	items := make([]int, 12)
	for i := range items {
		items[i] = i
	}

	var peak atomic.Int64
	var current atomic.Int64
	worker := func(ctx context.Context, x int) (int, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		current.Add(-1)
		return x, nil
	}

	start := time.Now()
	results, err := TransformToSlice(context.Background(),
		FromSlice(items), worker,
		Options{
			MaxParallelism: 8,
			RateLimit: &RateLimitOptions{
				TokensPerSecond: 100,
				BurstCapacity:   2,
				TokensPerOp:     2,
			},
		})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("TransformToSlice() error = %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("results = %d, want %d", len(results), len(items))
	}
	// 12 items at 2 tokens/op, burst 2, refill 100/s => 12 admissions of
	// 2 tokens each, 11 of which must wait roughly 20ms for refill.
	if elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want the token bucket to have throttled admission", elapsed)
	}
}

// Adaptive concurrency (spec §4.5.3): a worker that always fails must
// drive the controller to decrease its cap from the initial value toward
// min, observable through on_concurrency_change.
func TestTransformToSlice_AdaptiveConcurrencyDecreases(t *testing.T) {
	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}

	worker := func(ctx context.Context, x int) (int, error) {
		time.Sleep(3 * time.Millisecond)
		return 0, errors.New("always fails")
	}

	var changes []struct{ old, new int }
	var mu sync.Mutex

	_, err := TransformToSlice(context.Background(),
		FromSlice(items), worker,
		Options{
			ErrorMode: BestEffort,
			AdaptiveConcurrency: &AdaptiveConcurrencyOptions{
				Min:            1,
				Max:            8,
				Initial:        8,
				SampleInterval: 5 * time.Millisecond,
				MinSuccessRate: 0.9,
				Strategy:       resilience.AIMD,
				OnChange: func(old, new int) {
					mu.Lock()
					changes = append(changes, struct{ old, new int }{old, new})
					mu.Unlock()
				},
			},
		})
	if err != nil {
		t.Fatalf("TransformToSlice() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 {
		t.Fatal("on_concurrency_change fired 0 times, want at least one decrease")
	}
	sawDecrease := false
	for _, c := range changes {
		if c.new < c.old {
			sawDecrease = true
		}
	}
	if !sawDecrease {
		t.Errorf("changes = %v, want at least one decrease from the all-failing worker", changes)
	}
}
