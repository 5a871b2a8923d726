// ABOUTME: Tests for the memory_store and memory_retrieve builtins.
// ABOUTME: Uses a real SQLite store for integration coverage.

package builtins

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/2389/mcp-broker/internal/tools"
)

func TestMemoryStoreAndRetrieve(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	call := tools.Call{Agent: "agent-1", Emotion: "excited"}

	call.Params = json.RawMessage(`{"key": "favorite", "value": {"color": "green", "rank": 1}}`)
	result, err := h.MemoryStore(context.Background(), call)
	if err != nil {
		t.Fatalf("MemoryStore: %v", err)
	}

	var stored struct {
		Stored bool   `json:"stored"`
		Key    string `json:"key"`
	}
	if err := json.Unmarshal(result, &stored); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !stored.Stored || stored.Key != "favorite" {
		t.Errorf("unexpected store response: %+v", stored)
	}

	call.Params = json.RawMessage(`{"key": "favorite"}`)
	result, err = h.MemoryRetrieve(context.Background(), call)
	if err != nil {
		t.Fatalf("MemoryRetrieve: %v", err)
	}

	var got struct {
		Found     bool            `json:"found"`
		Key       string          `json:"key"`
		Value     json.RawMessage `json:"value"`
		Emotion   string          `json:"emotion"`
		UpdatedAt string          `json:"updated_at"`
	}
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !got.Found {
		t.Fatal("expected found=true")
	}
	var value map[string]any
	if err := json.Unmarshal(got.Value, &value); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if value["color"] != "green" || value["rank"] != float64(1) {
		t.Errorf("unexpected value: %v", value)
	}
	if got.Emotion != "excited" {
		t.Errorf("emotion = %q", got.Emotion)
	}
	if _, err := time.Parse(time.RFC3339, got.UpdatedAt); err != nil {
		t.Errorf("updated_at %q is not RFC3339: %v", got.UpdatedAt, err)
	}
}

func TestMemoryRetrieveNotFound(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}

	result, err := h.MemoryRetrieve(context.Background(), tools.Call{
		Agent:  "agent-1",
		Params: json.RawMessage(`{"key": "nothing"}`),
	})
	if err != nil {
		t.Fatalf("MemoryRetrieve: %v", err)
	}

	var resp struct {
		Found bool   `json:"found"`
		Key   string `json:"key"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if resp.Found || resp.Key != "nothing" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestMemoryRetrieveListsKeys(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	call := tools.Call{Agent: "agent-1"}

	for _, key := range []string{"zeta", "alpha"} {
		call.Params = json.RawMessage(`{"key": "` + key + `", "value": 1}`)
		if _, err := h.MemoryStore(context.Background(), call); err != nil {
			t.Fatalf("MemoryStore %s: %v", key, err)
		}
	}

	call.Params = json.RawMessage(`{}`)
	result, err := h.MemoryRetrieve(context.Background(), call)
	if err != nil {
		t.Fatalf("MemoryRetrieve: %v", err)
	}

	var resp struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if resp.Count != 2 || len(resp.Keys) != 2 {
		t.Fatalf("unexpected key list: %+v", resp)
	}
	if resp.Keys[0] != "alpha" || resp.Keys[1] != "zeta" {
		t.Errorf("keys not sorted: %v", resp.Keys)
	}
}

func TestMemoryScopedPerAgent(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}

	_, err := h.MemoryStore(context.Background(), tools.Call{
		Agent:  "agent-1",
		Params: json.RawMessage(`{"key": "secret", "value": "mine"}`),
	})
	if err != nil {
		t.Fatalf("MemoryStore: %v", err)
	}

	result, err := h.MemoryRetrieve(context.Background(), tools.Call{
		Agent:  "agent-2",
		Params: json.RawMessage(`{"key": "secret"}`),
	})
	if err != nil {
		t.Fatalf("MemoryRetrieve: %v", err)
	}

	var resp map[string]any
	json.Unmarshal(result, &resp)
	if resp["found"] != false {
		t.Errorf("agent-2 should not see agent-1's memory: %v", resp)
	}
}

func TestMemoryStoreRequiresKey(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}

	_, err := h.MemoryStore(context.Background(), tools.Call{
		Agent:  "agent-1",
		Params: json.RawMessage(`{"value": "x"}`),
	})
	if err == nil {
		t.Error("expected error for missing key")
	}
}

func TestMemoryStoreEmptyValue(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	call := tools.Call{Agent: "agent-1"}

	call.Params = json.RawMessage(`{"key": "empty"}`)
	if _, err := h.MemoryStore(context.Background(), call); err != nil {
		t.Fatalf("MemoryStore: %v", err)
	}

	call.Params = json.RawMessage(`{"key": "empty"}`)
	result, err := h.MemoryRetrieve(context.Background(), call)
	if err != nil {
		t.Fatalf("MemoryRetrieve: %v", err)
	}

	var resp struct {
		Found bool            `json:"found"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !resp.Found || string(resp.Value) != "null" {
		t.Errorf("unexpected response: found=%v value=%s", resp.Found, resp.Value)
	}
}
