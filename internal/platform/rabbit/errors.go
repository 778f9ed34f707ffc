package rabbit

import "errors"

// ErrQueueUnavailable is returned when the broker cannot be reached or does not
// confirm a publish within the configured timeout.
var ErrQueueUnavailable = errors.New("queue unavailable")

type discardError struct{ err error }

func (e *discardError) Error() string { return e.err.Error() }
func (e *discardError) Unwrap() error { return e.err }

// Discard marks a handler error as permanent: the delivery is acked and dropped
// instead of being requeued.
func Discard(err error) error {
	if err == nil {
		return nil
	}
	return &discardError{err: err}
}

func IsDiscard(err error) bool {
	var d *discardError
	return errors.As(err, &d)
}
