package rivulet

import "sync"

// aggregator implements the FailFast / CollectAndContinue / BestEffort
// semantics of spec.md §4.7. on_error is invoked exactly once per
// terminal-error outcome in all three modes (§9's fixed open question);
// its suppression return is honored in FailFast and CollectAndContinue
// and ignored (but still invoked) in BestEffort.
type aggregator struct {
	mode    ErrorMode
	onError func(index int, err error) bool

	mu        sync.Mutex
	collected []*Error
	failFirst *Error // FailFast: the first non-suppressed error, latched
}

func newAggregator(mode ErrorMode, onError func(index int, err error) bool) *aggregator {
	return &aggregator{mode: mode, onError: onError}
}

// handle processes one worker error outcome. It returns:
//   - suppress: true if the outcome must not be emitted on the output
//     channel; this is true for every error outcome, whether the error
//     is dropped, latched by FailFast, or collected for the aggregate
//   - terminate: true if FailFast must now cancel all in-flight work
func (a *aggregator) handle(index int, err *Error) (suppress, terminate bool) {
	suppressed := false
	if a.onError != nil {
		suppressed = a.onError(index, err)
	}

	switch a.mode {
	case FailFast:
		if suppressed {
			return true, false
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.failFirst != nil {
			// A terminal error already latched; subsequent ones are
			// discarded per §4.7 ("subsequent errors after the first
			// non-suppressed one are discarded").
			return true, false
		}
		a.failFirst = err
		return true, true

	case CollectAndContinue:
		if suppressed {
			return true, false
		}
		a.mu.Lock()
		a.collected = append(a.collected, err)
		a.mu.Unlock()
		return true, false

	default: // BestEffort
		return true, false
	}
}

// firstError returns the latched FailFast error, if any.
func (a *aggregator) firstError() *Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failFirst
}

// finalError returns the terminal *Error for CollectAndContinue once the
// stream completes, or nil if nothing was collected.
func (a *aggregator) finalError() *Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.collected) == 0 {
		return nil
	}
	entries := make([]*Error, len(a.collected))
	copy(entries, a.collected)
	return newAggregate(entries)
}
