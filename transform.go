package rivulet

import (
	"context"
	"iter"
)

// TransformToSlice runs worker over every item in source and returns the
// fully materialized result list, or a failure (spec §6, "Transform-to-
// list"). In CollectAndContinue, a non-empty collected set of errors is
// surfaced as a single Aggregate rather than returned alongside a partial
// list — callers get the list or the failure, never both.
func TransformToSlice[T, R any](ctx context.Context, source Source[T], worker Worker[T, R], opts Options) ([]R, error) {
	if verr := opts.Validate(); verr != nil {
		return nil, verr
	}

	e := newEngineState(opts, source, worker)
	go e.run(ctx)

	var results []R
	for o := range e.out.recv() {
		if o.err != nil {
			return nil, o.err
		}
		results = append(results, o.value)
	}

	if first := e.aggregator.firstError(); first != nil {
		return nil, first
	}
	if final := e.aggregator.finalError(); final != nil {
		return nil, final
	}
	if ctx.Err() != nil {
		return nil, newError(Cancelled, -1, ctx.Err())
	}
	return results, nil
}

// TransformToStream runs worker over every item in source and returns a
// lazy Go 1.23+ iterator (spec §6, "Transform-to-stream"). The sequence
// terminates normally after the last successful item, or yields a single
// terminal error (Cancelled, SourceError, the first unsuppressed error in
// FailFast, or — in CollectAndContinue — an Aggregate surfaced after the
// last successful item).
func TransformToStream[T, R any](ctx context.Context, source Source[T], worker Worker[T, R], opts Options) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R

		if verr := opts.Validate(); verr != nil {
			yield(zero, verr)
			return
		}

		e := newEngineState(opts, source, worker)
		go e.run(ctx)

		for o := range e.out.recv() {
			if o.err != nil {
				yield(zero, o.err)
				return
			}
			if !yield(o.value, nil) {
				return
			}
		}

		if first := e.aggregator.firstError(); first != nil {
			yield(zero, first)
			return
		}
		if final := e.aggregator.finalError(); final != nil {
			yield(zero, final)
			return
		}
		if ctx.Err() != nil {
			yield(zero, newError(Cancelled, -1, ctx.Err()))
		}
	}
}

// ForEach runs worker over every item in source for its side effects,
// discarding results, and returns a failure exactly like TransformToSlice
// would (spec §6, "For-each").
func ForEach[T, R any](ctx context.Context, source Source[T], worker Worker[T, R], opts Options) error {
	if verr := opts.Validate(); verr != nil {
		return verr
	}

	e := newEngineState(opts, source, worker)
	go e.run(ctx)

	for o := range e.out.recv() {
		if o.err != nil {
			return o.err
		}
	}

	if first := e.aggregator.firstError(); first != nil {
		return first
	}
	if final := e.aggregator.finalError(); final != nil {
		return final
	}
	if ctx.Err() != nil {
		return newError(Cancelled, -1, ctx.Err())
	}
	return nil
}
