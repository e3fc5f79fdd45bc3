package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// TransientError marks a worker failure that a later attempt may recover
// from (timeouts, rate limits, flaky transport).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a worker failure that retrying cannot fix (malformed
// input, rejected request).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Retryable reports whether a per-chunk attempt may be repeated.
// Unclassified errors count as retryable; chunk execution is at-least-once.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	return true
}

// IsTransient reports whether err was explicitly classified transient or is
// a deadline expiry.
func IsTransient(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
