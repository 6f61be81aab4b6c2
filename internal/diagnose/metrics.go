package diagnose

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// Counters holds the engine's diagnostic event counters (spec.md §6):
// items_started, items_completed, total_retries, total_failures,
// throttle_events, drain_events. Increments are a single atomic add —
// the engine's hot path never takes a lock to update them.
type Counters struct {
	ItemsStarted   atomic.Int64
	ItemsCompleted atomic.Int64
	TotalRetries   atomic.Int64
	TotalFailures  atomic.Int64
	ThrottleEvents atomic.Int64
	DrainEvents    atomic.Int64
}

// NewCounters returns a zeroed Counters.
func NewCounters() *Counters {
	return &Counters{}
}

// RegisterOTel registers one observable counter per field on meter,
// each backed by a callback that reads the current atomic value. This is
// what makes export pull-based: nothing pushes on increment, a collector
// (e.g. one holding a sdkmetric.ManualReader) drives Collect(ctx) and the
// callback runs synchronously at that point.
func (c *Counters) RegisterOTel(meter metric.Meter) (metric.Registration, error) {
	itemsStarted, err := meter.Int64ObservableCounter(
		"rivulet.items_started",
		metric.WithDescription("Number of items dispatched to a worker"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}
	itemsCompleted, err := meter.Int64ObservableCounter(
		"rivulet.items_completed",
		metric.WithDescription("Number of items with a published final outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}
	totalRetries, err := meter.Int64ObservableCounter(
		"rivulet.total_retries",
		metric.WithDescription("Number of retry attempts across all items"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}
	totalFailures, err := meter.Int64ObservableCounter(
		"rivulet.total_failures",
		metric.WithDescription("Number of terminal item failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}
	throttleEvents, err := meter.Int64ObservableCounter(
		"rivulet.throttle_events",
		metric.WithDescription("Number of on_throttle transitions"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	drainEvents, err := meter.Int64ObservableCounter(
		"rivulet.drain_events",
		metric.WithDescription("Number of on_drain transitions"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(itemsStarted, c.ItemsStarted.Load())
		o.ObserveInt64(itemsCompleted, c.ItemsCompleted.Load())
		o.ObserveInt64(totalRetries, c.TotalRetries.Load())
		o.ObserveInt64(totalFailures, c.TotalFailures.Load())
		o.ObserveInt64(throttleEvents, c.ThrottleEvents.Load())
		o.ObserveInt64(drainEvents, c.DrainEvents.Load())
		return nil
	}, itemsStarted, itemsCompleted, totalRetries, totalFailures, throttleEvents, drainEvents)
}

// Snapshot is a point-in-time copy of all counter values.
type Snapshot struct {
	ItemsStarted   int64
	ItemsCompleted int64
	TotalRetries   int64
	TotalFailures  int64
	ThrottleEvents int64
	DrainEvents    int64
}

// Snapshot reads all counters without requiring an OTel meter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ItemsStarted:   c.ItemsStarted.Load(),
		ItemsCompleted: c.ItemsCompleted.Load(),
		TotalRetries:   c.TotalRetries.Load(),
		TotalFailures:  c.TotalFailures.Load(),
		ThrottleEvents: c.ThrottleEvents.Load(),
		DrainEvents:    c.DrainEvents.Load(),
	}
}
