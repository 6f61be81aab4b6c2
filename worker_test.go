package rivulet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rivulet-go/rivulet/resilience"
)

func newTestEngine[T, R any](t *testing.T, opts Options, worker Worker[T, R]) *engineState[T, R] {
	t.Helper()
	if verr := opts.Validate(); verr != nil {
		t.Fatalf("Validate() error = %v", verr)
	}
	return newEngineState[T, R](opts, FromSlice([]T{}), worker)
}

func TestRunWorker_Success(t *testing.T) {
	e := newTestEngine(t, Options{}, func(ctx context.Context, x int) (int, error) {
		return x + 1, nil
	})

	result := runWorker(context.Background(), e, 0, 5)
	if result.err != nil || result.value != 6 {
		t.Fatalf("result = %+v, want value=6, err=nil", result)
	}
}

func TestRunWorker_ExhaustsRetriesThenReturnsUserError(t *testing.T) {
	e := newTestEngine(t, Options{MaxRetries: 2, BaseDelay: time.Millisecond}, func(ctx context.Context, x int) (int, error) {
		return 0, errors.New("always fails")
	})

	result := runWorker(context.Background(), e, 0, 1)
	if result.err == nil || result.err.Kind != UserError {
		t.Fatalf("result.err = %v, want UserError", result.err)
	}
}

func TestRunWorker_TimeoutClassification(t *testing.T) {
	e := newTestEngine(t, Options{PerItemTimeout: 5 * time.Millisecond}, func(ctx context.Context, x int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	result := runWorker(context.Background(), e, 0, 1)
	if result.err == nil || result.err.Kind != Timeout {
		t.Fatalf("result.err = %v, want Timeout", result.err)
	}
}

func TestRunWorker_CancelledDuringBackoffWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	e := newTestEngine(t, Options{MaxRetries: 5, BaseDelay: time.Second}, func(ctx context.Context, x int) (int, error) {
		return 0, errors.New("transient")
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := runWorker(ctx, e, 0, 1)
	if result.err == nil || result.err.Kind != Cancelled {
		t.Fatalf("result.err = %v, want Cancelled", result.err)
	}
}

func TestRunWorker_ParentCancellationUnderPerItemTimeoutIsCancelledNotUserError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	e := newTestEngine(t, Options{PerItemTimeout: time.Hour}, func(ctx context.Context, x int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := runWorker(ctx, e, 0, 1)
	if result.err == nil || result.err.Kind != Cancelled {
		t.Fatalf("result.err = %v, want Cancelled (parent cancellation under a long per-item timeout must not surface as UserError)", result.err)
	}
}

func TestRunWorker_CircuitOpenShortCircuits(t *testing.T) {
	e := newTestEngine(t, Options{
		CircuitBreaker: &CircuitBreakerOptions{FailureThreshold: 1, OpenTimeout: time.Hour},
	}, func(ctx context.Context, x int) (int, error) {
		return 0, errors.New("fail")
	})

	first := runWorker(context.Background(), e, 0, 1)
	if first.err == nil || first.err.Kind != UserError {
		t.Fatalf("first result.err = %v, want UserError", first.err)
	}

	second := runWorker(context.Background(), e, 1, 2)
	if second.err == nil || second.err.Kind != CircuitOpen {
		t.Fatalf("second result.err = %v, want CircuitOpen", second.err)
	}
}

func TestInvokeWithTimeout_NoTimeoutConfigured(t *testing.T) {
	e := newTestEngine(t, Options{}, func(ctx context.Context, x int) (int, error) {
		return x * 2, nil
	})

	v, err := e.invokeWithTimeout(context.Background(), 0, 3)
	if err != nil || v != 6 {
		t.Fatalf("invokeWithTimeout() = (%d, %v), want (6, nil)", v, err)
	}
}

func TestInvokeWithTimeout_ExceedsDeadline(t *testing.T) {
	e := newTestEngine(t, Options{PerItemTimeout: 5 * time.Millisecond}, func(ctx context.Context, x int) (int, error) {
		time.Sleep(50 * time.Millisecond)
		return x, nil
	})

	_, err := e.invokeWithTimeout(context.Background(), 0, 1)
	if !errors.Is(err, resilience.ErrTimeout) {
		t.Fatalf("invokeWithTimeout() error = %v, want resilience.ErrTimeout", err)
	}
}
