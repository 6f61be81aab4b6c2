package rivulet

import "sync"

// reorderBuffer implements ordered_output=true (spec §4.6): items are
// parked keyed by index until the next-expected index is present, then
// contiguous runs are released in order.
//
// Hole-skip (§9 design note): when an error at index k is suppressed or
// folded into a CollectAndContinue aggregate rather than terminating the
// run, the buffer must not hold indices > k forever waiting for an
// emission at k that will never come. put's skip parameter marks such an
// index as resolved-but-not-emitted: the cursor advances past it without
// publishing anything for it.
//
// Sizing: the buffer grows with the number of out-of-order completions
// currently parked, rather than rejecting entries past channel_capacity.
// A worker releases its concurrency permit once its outcome is parked, so
// while an early index is still running the parked set is not bounded by
// max_parallelism: it can grow to every later index that has completed.
// Because every entry is accepted, the next-expected index is always
// accepted too, and parking never blocks a worker.
// put is called concurrently: one call per completing worker goroutine,
// potentially many at once, so the cursor and pending map need a mutex
// even though exactly one engine owns this buffer for the call's duration.
type reorderBuffer[R any] struct {
	mu      sync.Mutex
	next    int
	pending map[int]reorderEntry[R]
}

type reorderEntry[R any] struct {
	skip    bool
	outcome outcome[R]
}

func newReorderBuffer[R any]() *reorderBuffer[R] {
	return &reorderBuffer[R]{pending: make(map[int]reorderEntry[R])}
}

// put records the outcome for index and, while still holding the buffer's
// lock, calls publish for every entry of the contiguous run (in order,
// skip entries omitted) now releasable starting at the cursor. publish is
// invoked under the lock deliberately: two completions that each unblock
// a run (e.g. index 2 completing while index 3 is already pending) must
// not be able to publish their runs to the output channel out of order,
// which a lock held only across the map update would allow — the second
// completion would simply race publish calls with the first past the
// point where the map lock was released. Holding the lock across publish
// (which may itself block on output-channel backpressure) serializes
// ordered emission exactly the way spec §4.6 requires; it never
// deadlocks, since the only other acquirer is another put() call racing
// to append to the same pending map, not a consumer of this buffer.
// publish stops and returns its error immediately (e.g. caller
// cancellation) without draining the rest of the run.
func (b *reorderBuffer[R]) put(index int, skip bool, o outcome[R], publish func(outcome[R]) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[index] = reorderEntry[R]{skip: skip, outcome: o}

	for {
		entry, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		b.next++
		if entry.skip {
			continue
		}
		if err := publish(entry.outcome); err != nil {
			return err
		}
	}
	return nil
}
