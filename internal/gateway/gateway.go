// Package gateway defines the Session Gateway contract: the only external
// dependency that carries semantic contract for the operations core. It is
// model-agnostic — it accepts an opaque model id and an opaque enabled-tool
// set — and is implemented by concrete adapters (see anthropic.go, openai.go).
package gateway

import (
	"context"
	"errors"
	"time"
)

// EventKind identifies the kind of streamed event a Send call yields.
type EventKind string

const (
	EventTextDelta   EventKind = "text_delta"
	EventToolStart   EventKind = "tool_start"
	EventToolEnd     EventKind = "tool_end"
	EventReasoning   EventKind = "reasoning"
	EventIdle        EventKind = "idle"
	EventStreamError EventKind = "stream_error"
)

// StreamEvent is one element of the stream a Send call yields. The stream
// yields zero-or-more TextDelta, interleaved with zero-or-more ToolStart/
// ToolEnd pairs and zero-or-more Reasoning, terminated by exactly one Idle
// or StreamError.
type StreamEvent struct {
	Kind     EventKind
	Text     string // set for TextDelta and Reasoning
	ToolName string // set for ToolStart/ToolEnd
	ToolID   string // correlates a ToolStart with its ToolEnd
	Err      error  // set for StreamError
}

// TransientError indicates a retryable Gateway failure (network, rate
// limit, 5xx). Callers retry locally with backoff.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return "gateway: transient error: " + e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

// FatalError indicates an unrecoverable Gateway failure that must propagate
// to the caller rather than be retried.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return "gateway: fatal error: " + e.Cause.Error() }
func (e *FatalError) Unwrap() error { return e.Cause }

// IsTransient reports whether err (or any error it wraps) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err (or any error it wraps) is a FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// CreateParams describes a new session request.
type CreateParams struct {
	SessionID        string
	Model            string
	WorkingDirectory string
	SystemPrompt     string
	EnabledTools     []string
}

// Handle identifies a live session. The Gateway serializes calls per
// handle; callers must never issue concurrent Send calls on one handle.
type Handle interface {
	// ID returns the opaque session identifier backing this handle.
	ID() string
}

// Gateway is the abstract contract every concrete LLM adapter implements.
// create/send/abort/terminate map directly onto the component's external
// contract: the core depends only on this interface, never on a concrete
// SDK type.
type Gateway interface {
	// Create opens a new session. Failures are always a *TransientError or
	// *FatalError; any other error is a programming error in the adapter.
	Create(ctx context.Context, params CreateParams) (Handle, error)

	// Send issues prompt against handle and returns a channel of
	// StreamEvent. The caller must drain the channel to completion (it
	// closes after exactly one Idle or StreamError) or call Abort.
	Send(ctx context.Context, handle Handle, prompt string, timeout time.Duration) (<-chan StreamEvent, error)

	// Abort cancels an in-flight Send; it guarantees the stream unblocks
	// with Idle or StreamError.
	Abort(ctx context.Context, handle Handle) error

	// Terminate releases all session resources. Idempotent.
	Terminate(ctx context.Context, handle Handle) error
}
