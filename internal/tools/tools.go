// ABOUTME: Tool model for the broker: sealed unary/streaming handler variants.
// ABOUTME: Handlers receive the call's parameters plus the invoking agent and emotion tag.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Call carries the invocation inputs a handler sees. The broker never
// interprets Params; their shape is a contract between caller and tool.
// ConnID identifies the transport connection (or compatibility session)
// the call arrived on, so registration-style tools can tie state to it;
// it is empty for direct in-process invocations.
type Call struct {
	Params  json.RawMessage
	Agent   string
	Emotion string
	ConnID  string
}

// Sink receives streamed partial values from a Streaming handler.
// Emit blocks while the transport is saturated, so a producer can never
// run unboundedly ahead of what has been flushed. It returns an error
// once the owning request is cancelled or its connection is gone; the
// handler should stop producing and return promptly.
type Sink interface {
	Emit(ctx context.Context, content any) error
}

// Handler is the sealed union of the two invocation variants. The
// registry stores the variant with the tool so dispatch can branch
// without reflection.
type Handler interface {
	streaming() bool
}

// Unary produces a single JSON result or an error.
type Unary func(ctx context.Context, call Call) (json.RawMessage, error)

func (Unary) streaming() bool { return false }

// Streaming yields an ordered sequence of partial values through the
// sink. Returning nil terminates the stream normally; returning an error
// replaces the end marker with a terminal error.
type Streaming func(ctx context.Context, call Call, out Sink) error

func (Streaming) streaming() bool { return true }

// Tool is one registry entry. Entries are copied out of the registry on
// resolve, so an in-flight call keeps its handler even if the name is
// unregistered mid-invocation.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// IsStreaming reports the declared variant of the tool's handler.
func (t Tool) IsStreaming() bool {
	return t.Handler != nil && t.Handler.streaming()
}

// ExecutionError wraps a failure raised by a handler during unary or
// streaming execution. The dispatcher converts it to a wire error
// envelope; it never propagates past the request task.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
