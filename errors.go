package rivulet

import (
	"errors"
	"fmt"
)

// Kind tags the closed error taxonomy callers branch on (spec §7). Unlike
// a plain sentinel-per-failure-mode scheme, Kind lets a single Error
// value carry both a stable category and a wrapped cause.
type Kind int

const (
	// ConfigurationInvalid means Options.Validate rejected the config
	// before any work started.
	ConfigurationInvalid Kind = iota
	// SourceError means the source adapter failed to produce an item.
	SourceError
	// UserError means the worker function returned an error.
	UserError
	// Timeout means a per-item deadline was exceeded.
	Timeout
	// CircuitOpen means a request was rejected by an open circuit breaker.
	CircuitOpen
	// Cancelled means the caller's context was cancelled.
	Cancelled
	// Aggregate means the error carries multiple entries collected under
	// CollectAndContinue.
	Aggregate
)

func (k Kind) String() string {
	switch k {
	case ConfigurationInvalid:
		return "configuration_invalid"
	case SourceError:
		return "source_error"
	case UserError:
		return "user_error"
	case Timeout:
		return "timeout"
	case CircuitOpen:
		return "circuit_open"
	case Cancelled:
		return "cancelled"
	case Aggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// Error is the engine's single error type. Index is -1 for errors not
// tied to a specific source item (ConfigurationInvalid, SourceError,
// Cancelled at the dispatcher level).
type Error struct {
	Kind  Kind
	Index int
	Err   error

	// Errors holds the collected entries when Kind == Aggregate.
	Errors []*Error
}

func (e *Error) Error() string {
	if e.Kind == Aggregate {
		return fmt.Sprintf("rivulet: aggregate error with %d entries", len(e.Errors))
	}
	if e.Index >= 0 {
		return fmt.Sprintf("rivulet: %s at index %d: %v", e.Kind, e.Index, e.Err)
	}
	return fmt.Sprintf("rivulet: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is against the Kind-specific sentinels below: a
// *Error matches sentinelError{kind} whenever its Kind matches.
func (e *Error) Is(target error) bool {
	var sentinel sentinelError
	if errors.As(target, &sentinel) {
		return e.Kind == sentinel.kind
	}
	return false
}

// sentinelError lets callers write errors.Is(err, rivulet.ErrTimeout)
// without type-asserting to *Error and reading Kind by hand.
type sentinelError struct{ kind Kind }

func (s sentinelError) Error() string { return "rivulet: " + s.kind.String() }

// Sentinel values for errors.Is checks against a returned *Error's Kind.
var (
	ErrConfigurationInvalid error = sentinelError{ConfigurationInvalid}
	ErrSourceError          error = sentinelError{SourceError}
	ErrUserError            error = sentinelError{UserError}
	ErrTimeout              error = sentinelError{Timeout}
	ErrCircuitOpen          error = sentinelError{CircuitOpen}
	ErrCancelled            error = sentinelError{Cancelled}
	ErrAggregate            error = sentinelError{Aggregate}
)

func newError(kind Kind, index int, err error) *Error {
	return &Error{Kind: kind, Index: index, Err: err}
}

func newAggregate(entries []*Error) *Error {
	return &Error{Kind: Aggregate, Index: -1, Errors: entries}
}
