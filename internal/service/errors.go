package service

import (
	"errors"
	"fmt"
)

// ValidationError reports a request rejected before any store call.
// NotFound marks references to a movie or user that does not exist, as
// opposed to a malformed value.
type ValidationError struct {
	Field    string
	Reason   string
	NotFound bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	// ErrTimeout means every attempt ended indeterminate or the deadline
	// passed.  The operation may be retried with the same intent.
	ErrTimeout = errors.New("seat operation timed out")
	// ErrStore wraps a fatal store failure such as a schema mismatch.
	ErrStore = errors.New("seat store failure")
	// ErrCanceled means the caller abandoned the operation.
	ErrCanceled = errors.New("seat operation canceled")
)

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
