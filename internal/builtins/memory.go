// ABOUTME: Memory builtins backed by the SQLite store, scoped per agent.
// ABOUTME: memory_store records the request's emotion tag alongside the value.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/mcp-broker/internal/store"
	"github.com/2389/mcp-broker/internal/tools"
)

type memoryStoreInput struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (b *handlers) MemoryStore(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	var in memoryStoreInput
	if err := json.Unmarshal(call.Params, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if len(in.Value) == 0 {
		in.Value = json.RawMessage("null")
	}

	err := b.deps.Store.PutMemory(ctx, store.Memory{
		AgentID: call.Agent,
		Key:     in.Key,
		Value:   in.Value,
		Emotion: call.Emotion,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"stored": true,
		"key":    in.Key,
	})
}

type memoryRetrieveInput struct {
	Key string `json:"key"`
}

func (b *handlers) MemoryRetrieve(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	var in memoryRetrieveInput
	if len(call.Params) > 0 {
		if err := json.Unmarshal(call.Params, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	// No key: list what the agent has stored.
	if in.Key == "" {
		keys, err := b.deps.Store.ListMemoryKeys(ctx, call.Agent)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"keys":  nonNil(keys),
			"count": len(keys),
		})
	}

	entry, err := b.deps.Store.GetMemory(ctx, call.Agent, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return json.Marshal(map[string]any{
			"found": false,
			"key":   in.Key,
		})
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"found":      true,
		"key":        entry.Key,
		"value":      entry.Value,
		"emotion":    entry.Emotion,
		"updated_at": entry.UpdatedAt.Format(time.RFC3339),
	})
}
