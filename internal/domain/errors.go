package domain

import "errors"

// Failure kinds for bridge operations. Callers classify with errors.Is and
// wrap with fmt.Errorf("...: %w", err) to add context.
var (
	// ErrAuth means no usable token; abort silently, never retry.
	ErrAuth = errors.New("authentication failure")

	// ErrTransport is a network or remote 4xx/5xx failure.
	ErrTransport = errors.New("transport failure")

	// ErrNotFound means a referenced remote record is gone; skip and log.
	ErrNotFound = errors.New("remote record not found")

	// ErrEncoding means image re-encoding could not fit the size ceiling
	// within the retry ladder.
	ErrEncoding = errors.New("image encoding failure")

	// ErrValidation marks input rejected before processing (edits,
	// private posts); never retryable.
	ErrValidation = errors.New("validation failure")
)

// PublishResult reports the outcome of one outbound pass to the scheduler.
// Retryable asks the scheduler to re-run the whole pass with an incremented
// retry count; a nil Err with Retryable false is success.
type PublishResult struct {
	Err       error
	Retryable bool
}

// OK reports whether the pass completed without error.
func (r PublishResult) OK() bool {
	return r.Err == nil
}
