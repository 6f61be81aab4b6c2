package rivulet

// outcome is what a worker wrapper publishes to the output channel: the
// index it was invoked for, the result on success, or a terminal *Error.
type outcome[R any] struct {
	index int
	value R
	err   *Error
}
