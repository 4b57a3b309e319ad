package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap attaches a kind to err. An err that already carries a Kind keeps it.
func Wrap(err error, kind Kind, op, message string) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		if message != "" {
			typed.WithContext("wrapped_message", message)
		}
		if typed.Op == "" {
			typed.Op = op
		}
		return typed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message, keeping the chain intact
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// KindOf returns the Kind carried by err, or KindInternal for untyped errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// As is errors.As, re-exported so callers need only one errors import
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
