// Package errors defines the error type shared by every vaultmcp
// component. Each error carries a Kind from the service taxonomy, an
// operator-facing message, optional structured details, and an optional
// suggestion shown by the CLI.
package errors

import (
	"errors"
	"fmt"
)

// KBError is the error type returned by vaultmcp packages. It wraps an
// underlying cause where one exists and classifies it with a Kind so the
// tool layer can map it onto the wire envelope without string matching.
type KBError struct {
	Kind       Kind
	Message    string
	Details    map[string]any
	Suggestion string
	Err        error
}

// New creates a KBError with the given kind and message.
func New(kind Kind, message string) *KBError {
	return &KBError{Kind: kind, Message: message}
}

// Newf creates a KBError with a formatted message.
func Newf(kind Kind, format string, args ...any) *KBError {
	return &KBError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(err error, kind Kind, message string) *KBError {
	if err == nil {
		return nil
	}
	return &KBError{Kind: kind, Message: message, Err: err}
}

// Wrapf annotates err with a kind and a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) *KBError {
	if err == nil {
		return nil
	}
	return &KBError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *KBError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *KBError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a KBError with the same kind. This lets
// callers test kinds with errors.Is against a sentinel-style value.
func (e *KBError) Is(target error) bool {
	var t *KBError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the error's kind permits retries.
func (e *KBError) Retryable() bool {
	return e.Kind.Retryable()
}

// WithDetail attaches a structured detail and returns the error for
// chaining.
func (e *KBError) WithDetail(key string, value any) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches a remediation hint shown by the CLI.
func (e *KBError) WithSuggestion(s string) *KBError {
	e.Suggestion = s
	return e
}

// KindOf extracts the Kind from err. Unclassified errors report
// KindInternal; nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var kb *KBError
	if errors.As(err, &kb) {
		return kb.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err may be retried. Unclassified errors
// are not retryable.
func IsRetryable(err error) bool {
	var kb *KBError
	if errors.As(err, &kb) {
		return kb.Retryable()
	}
	return false
}

// As is a convenience wrapper over errors.As for *KBError.
func As(err error) (*KBError, bool) {
	var kb *KBError
	ok := errors.As(err, &kb)
	return kb, ok
}
