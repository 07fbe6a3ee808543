// Package mcp implements the Model Context Protocol server for
// vaultmcp: tool registration, typed handlers, and the mapping from
// internal errors onto the wire envelope.
package mcp

import (
	"context"
	"errors"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// Wire statuses. Every tool returns a single JSON object whose status
// field is one of these, so clients parse one shape for success and
// failure alike.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolStatus is the envelope embedded in every tool output. On failure
// it carries the error kind, a message, and whether retrying can help.
type ToolStatus struct {
	Status     string         `json:"status" jsonschema:"success or error"`
	Kind       string         `json:"kind,omitempty" jsonschema:"error kind from the service taxonomy"`
	Message    string         `json:"message,omitempty" jsonschema:"human-readable error message"`
	Retryable  *bool          `json:"retryable,omitempty" jsonschema:"whether retrying the call can succeed"`
	Suggestion string         `json:"suggestion,omitempty" jsonschema:"suggested next step"`
	Details    map[string]any `json:"details,omitempty" jsonschema:"structured error context"`
}

func succeed() ToolStatus {
	return ToolStatus{Status: StatusSuccess}
}

// MapError converts any error into the wire envelope. Classified
// errors keep their kind; context timeouts surface as retryable
// backend failures; everything else reports Internal.
func MapError(err error) ToolStatus {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = kberrors.Wrap(err, kberrors.KindBackendUnavailable, "request timed out")
	case errors.Is(err, context.Canceled):
		err = kberrors.Wrap(err, kberrors.KindInternal, "request was canceled")
	}

	retryable := kberrors.IsRetryable(err)
	st := ToolStatus{
		Status:    StatusError,
		Kind:      string(kberrors.KindOf(err)),
		Message:   err.Error(),
		Retryable: &retryable,
	}
	if kbe, ok := kberrors.As(err); ok {
		st.Message = kbe.Message
		st.Suggestion = kbe.Suggestion
		st.Details = kbe.Details
	}
	return st
}
