package resilience

import (
	"context"
	"sync"
)

// Semaphore bounds the number of concurrently in-flight items. Unlike a
// fixed-size worker pool, its capacity can be grown or shrunk while
// acquisitions are outstanding, which is what lets an AdaptiveController
// (adaptive.go) retune concurrency mid-run without tearing down and
// restarting the dispatcher.
//
// This is a mutex+condition-variable counter rather than a wrapper around
// golang.org/x/sync/semaphore.Weighted: Weighted is sized once at
// construction and has no way to grow past that ceiling without discarding
// and rebuilding it (which would require quiescing every outstanding
// acquire first). Resize needs to move the cap in either direction by an
// arbitrary amount at any time, including past where it started, so the
// capacity itself is tracked as a plain counter: available can run
// negative during a shrink that hasn't yet been paid back by enough
// Releases, which is exactly the "shrink lazily as workers complete"
// behavior the adaptive controller needs.
type Semaphore struct {
	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int64
	available int64
	closed    bool
}

// NewSemaphore creates a semaphore with the given initial capacity.
func NewSemaphore(capacity int64) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	s := &Semaphore{capacity: capacity, available: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until one unit of capacity is available, ctx is done, or
// the semaphore is closed.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSemaphoreClosed
	}
	if s.available > 0 {
		s.available--
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// sync.Cond has no built-in cancellation, so a waiter that needs to
	// give up on ctx has to be woken by hand: this goroutine exists only
	// to turn ctx.Done() into a Broadcast, and exits via done as soon as
	// Acquire returns by any path.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.available <= 0 && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}
	if s.closed {
		return ErrSemaphoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.available--
	return nil
}

// TryAcquire attempts to acquire one unit of capacity without blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.available <= 0 {
		return false
	}
	s.available--
	return true
}

// Release returns one unit of capacity.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.available++
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Capacity returns the current configured capacity.
func (s *Semaphore) Capacity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Resize changes the semaphore's effective capacity to newCap, adjusting
// available by the same delta. Growing makes permits available
// immediately; shrinking below what's currently held simply drives
// available negative, so the cap only takes full effect once enough
// in-flight holders have Released to pay the deficit back down.
func (s *Semaphore) Resize(ctx context.Context, newCap int64) {
	if newCap < 1 {
		newCap = 1
	}

	s.mu.Lock()
	delta := newCap - s.capacity
	s.capacity = newCap
	s.available += delta
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close releases all goroutines blocked in Acquire with ErrSemaphoreClosed.
// It does not wait for outstanding holders to Release.
func (s *Semaphore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
