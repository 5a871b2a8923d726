// ABOUTME: Tests for the core builtin handlers: register_agent, list_agents, echo, system_info.
// ABOUTME: Uses a real SQLite store and a live directory rather than mocks.

package builtins

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/2389/mcp-broker/internal/agent"
	"github.com/2389/mcp-broker/internal/store"
	"github.com/2389/mcp-broker/internal/tools"
)

func TestAllToolSet(t *testing.T) {
	set := All(newTestDeps(t))

	want := []string{
		"register_agent", "list_agents", "echo", "system_info",
		"file_read", "file_write", "execute_command",
		"memory_store", "memory_retrieve", "generate_text",
	}
	if len(set) != len(want) {
		t.Fatalf("expected %d builtins, got %d", len(want), len(set))
	}

	byName := make(map[string]tools.Tool, len(set))
	for _, tool := range set {
		byName[tool.Name] = tool
	}
	for _, name := range want {
		tool, ok := byName[name]
		if !ok {
			t.Errorf("builtin %q missing from All", name)
			continue
		}
		if tool.Handler == nil {
			t.Errorf("builtin %q has no handler", name)
		}
		if tool.Description == "" {
			t.Errorf("builtin %q has no description", name)
		}
		if tool.InputSchema == nil || tool.InputSchema.Type != "object" {
			t.Errorf("builtin %q should carry an object input schema", name)
		}
	}

	// generate_text is the only streaming builtin.
	for _, tool := range set {
		if tool.IsStreaming() != (tool.Name == "generate_text") {
			t.Errorf("tool %q streaming=%v, want %v", tool.Name, tool.IsStreaming(), tool.Name == "generate_text")
		}
	}
}

func TestRegisterAll(t *testing.T) {
	deps := newTestDeps(t)
	r := tools.NewRegistry(testLogger())

	if err := RegisterAll(r, deps); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if got := r.Count(); got != len(All(deps)) {
		t.Errorf("registry holds %d tools, want %d", got, len(All(deps)))
	}

	// A second pass collides on every name.
	if err := RegisterAll(r, deps); err == nil {
		t.Error("expected duplicate registration error on second RegisterAll")
	}
}

func TestRegisterAgent(t *testing.T) {
	deps := newTestDeps(t)
	h := &handlers{deps: deps}

	result, err := h.RegisterAgent(context.Background(), tools.Call{
		Params: json.RawMessage(`{"agent_id": "coder", "name": "Coder", "capabilities": ["go", "sql"]}`),
		ConnID: "conn-1",
	})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	var resp struct {
		Registered   bool     `json:"registered"`
		AgentID      string   `json:"agent_id"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !resp.Registered {
		t.Error("expected registered=true")
	}
	if resp.AgentID != "coder" {
		t.Errorf("unexpected agent_id: %s", resp.AgentID)
	}
	if len(resp.Capabilities) != 2 || resp.Capabilities[0] != "go" || resp.Capabilities[1] != "sql" {
		t.Errorf("unexpected capabilities: %v", resp.Capabilities)
	}

	info, ok := deps.Directory.Get("coder")
	if !ok {
		t.Fatal("agent not present in directory")
	}
	if info.Name != "Coder" || info.ConnID != "conn-1" {
		t.Errorf("directory entry = %+v", info)
	}
}

func TestRegisterAgentEnvelopeFallback(t *testing.T) {
	deps := newTestDeps(t)
	h := &handlers{deps: deps}

	// No agent_id parameter: the envelope agent field identifies the caller.
	result, err := h.RegisterAgent(context.Background(), tools.Call{
		Params: json.RawMessage(`{"capabilities": ["search"]}`),
		Agent:  "scout",
	})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if resp["agent_id"] != "scout" {
		t.Errorf("unexpected agent_id: %v", resp["agent_id"])
	}
	if _, ok := deps.Directory.Get("scout"); !ok {
		t.Error("scout not registered")
	}
}

func TestRegisterAgentNoIdentity(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}

	_, err := h.RegisterAgent(context.Background(), tools.Call{
		Params: json.RawMessage(`{"capabilities": ["x"]}`),
	})
	if err == nil {
		t.Fatal("expected error when neither agent_id nor envelope agent is set")
	}
}

func TestListAgents(t *testing.T) {
	deps := newTestDeps(t)
	h := &handlers{deps: deps}

	// Empty directory lists as an empty array, not null.
	result, err := h.ListAgents(context.Background(), tools.Call{})
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	var empty struct {
		Agents []agentEntry `json:"agents"`
		Count  int          `json:"count"`
	}
	if err := json.Unmarshal(result, &empty); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if empty.Count != 0 || empty.Agents == nil {
		t.Errorf("empty list = %+v", empty)
	}

	_, err = h.RegisterAgent(context.Background(), tools.Call{
		Params: json.RawMessage(`{"agent_id": "A", "capabilities": ["x", "y"]}`),
	})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	result, err = h.ListAgents(context.Background(), tools.Call{})
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	var listed struct {
		Agents []agentEntry `json:"agents"`
		Count  int          `json:"count"`
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if listed.Count != 1 || len(listed.Agents) != 1 {
		t.Fatalf("expected one agent, got %+v", listed)
	}
	entry := listed.Agents[0]
	if entry.ID != "A" {
		t.Errorf("unexpected id: %s", entry.ID)
	}
	if len(entry.Capabilities) != 2 || entry.Capabilities[0] != "x" || entry.Capabilities[1] != "y" {
		t.Errorf("unexpected capabilities: %v", entry.Capabilities)
	}
	if _, err := time.Parse(time.RFC3339, entry.RegisteredAt); err != nil {
		t.Errorf("registered_at %q is not RFC3339: %v", entry.RegisteredAt, err)
	}
}

func TestEcho(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}

	params := json.RawMessage(`{"message":"Hello, MCP!"}`)
	result, err := h.Echo(context.Background(), tools.Call{Params: params})
	if err != nil {
		t.Fatalf("Echo: %v", err)
	}
	if string(result) != string(params) {
		t.Errorf("echo returned %s, want %s", result, params)
	}

	// Absent parameters come back as an empty object.
	result, err = h.Echo(context.Background(), tools.Call{})
	if err != nil {
		t.Fatalf("Echo (empty): %v", err)
	}
	if string(result) != "{}" {
		t.Errorf("echo of empty params = %s", result)
	}
}

func TestSystemInfo(t *testing.T) {
	deps := newTestDeps(t)
	deps.Version = "1.2.3"
	deps.StartedAt = time.Now().Add(-5 * time.Second)
	h := &handlers{deps: deps}

	result, err := h.SystemInfo(context.Background(), tools.Call{})
	if err != nil {
		t.Fatalf("SystemInfo: %v", err)
	}

	var resp struct {
		Hostname      string `json:"hostname"`
		OS            string `json:"os"`
		Arch          string `json:"arch"`
		GoVersion     string `json:"go_version"`
		PID           int    `json:"pid"`
		Goroutines    int    `json:"goroutines"`
		BrokerVersion string `json:"broker_version"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if resp.OS != runtime.GOOS || resp.Arch != runtime.GOARCH {
		t.Errorf("os/arch = %s/%s", resp.OS, resp.Arch)
	}
	if resp.GoVersion == "" || resp.Hostname == "" {
		t.Error("expected hostname and go_version")
	}
	if resp.PID <= 0 || resp.Goroutines <= 0 {
		t.Errorf("pid=%d goroutines=%d", resp.PID, resp.Goroutines)
	}
	if resp.BrokerVersion != "1.2.3" {
		t.Errorf("unexpected broker_version: %s", resp.BrokerVersion)
	}
	if resp.UptimeSeconds < 5 {
		t.Errorf("uptime_seconds = %d, want >= 5", resp.UptimeSeconds)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Directory: agent.NewDirectory(testLogger()),
		Store:     newTestStore(t),
		Version:   "test",
		StartedAt: time.Now(),
	}
}
