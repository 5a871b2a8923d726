// ABOUTME: Store interface and data types for broker persistence.
// ABOUTME: Defines Memory and ToolCall records plus the Store interface.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Memory is one key-value entry written by the memory_store tool.
// Entries are scoped per agent; the emotion tag of the writing request is
// recorded alongside the value.
type Memory struct {
	AgentID   string
	Key       string
	Value     json.RawMessage
	Emotion   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tool call outcome values for ToolCall.Status.
const (
	CallStatusOK    = "ok"
	CallStatusError = "error"
)

// ToolCall is one audit row describing a completed invocation. Written
// best-effort after the terminal response; the broker owes it nothing
// across restarts.
type ToolCall struct {
	ID         string
	RequestID  string
	ConnID     string
	AgentID    string
	Tool       string
	Emotion    string
	Status     string
	Detail     string
	DurationMS int64
	CreatedAt  time.Time
}

// Store is the persistence interface used by the memory builtins and the
// dispatcher's audit path.
type Store interface {
	PutMemory(ctx context.Context, entry Memory) error
	GetMemory(ctx context.Context, agentID, key string) (*Memory, error)
	ListMemoryKeys(ctx context.Context, agentID string) ([]string, error)

	RecordToolCall(ctx context.Context, rec ToolCall) error
	CountToolCalls(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
