package errors

import (
	"fmt"
)

// Kind is the closed set of failure categories produced at the adapter
// boundaries (store, chain, peer relay). Core code switches on Kind instead
// of inspecting error text.
type Kind string

const (
	// KindValidation indicates bad operator or peer input
	KindValidation Kind = "VALIDATION"

	// KindTransport indicates a recoverable relay/transport failure
	KindTransport Kind = "TRANSPORT"

	// KindAuth indicates an authorization failure on the transport; terminal
	KindAuth Kind = "AUTH"

	// KindChain indicates a chain RPC failure
	KindChain Kind = "CHAIN"

	// KindStore indicates a tabular store read/write failure
	KindStore Kind = "STORE"

	// KindTimeout indicates a deadline was exceeded
	KindTimeout Kind = "TIMEOUT"

	// KindRejected indicates the operator rejected a request
	KindRejected Kind = "REJECTED"

	// KindUnsupported indicates an unknown or unsupported method
	KindUnsupported Kind = "UNSUPPORTED"

	// KindInternal indicates a bug or unexpected state
	KindInternal Kind = "INTERNAL"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind    Kind                   `json:"kind"`
	Op      string                 `json:"op,omitempty"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// New creates an Error without a cause
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = msg + ": " + e.Cause.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether another attempt may succeed
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindChain, KindStore, KindTimeout:
		return true
	default:
		return false
	}
}

// Terminal reports whether the failure should end the affected connection
func (e *Error) Terminal() bool {
	return e.Kind == KindAuth
}

// Common constructors

func Validation(op, message string) *Error {
	return New(KindValidation, op, message)
}

func Transport(op string, cause error) *Error {
	return Wrap(cause, KindTransport, op, "")
}

func Auth(op, message string, cause error) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: message, Cause: cause}
}

func Chain(op string, cause error) *Error {
	return Wrap(cause, KindChain, op, "")
}

func Store(op string, cause error) *Error {
	return Wrap(cause, KindStore, op, "")
}

func Unsupported(op, method string) *Error {
	return New(KindUnsupported, op, "unsupported method: "+method)
}
