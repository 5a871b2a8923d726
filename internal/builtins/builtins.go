// ABOUTME: Core builtin tools every broker exposes: registration, discovery, echo, system info.
// ABOUTME: The broker treats these as opaque handlers; only the signature is its contract.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/mcp-broker/internal/agent"
	"github.com/2389/mcp-broker/internal/store"
	"github.com/2389/mcp-broker/internal/tools"
)

// Deps bundles everything the builtin handlers reach for.
type Deps struct {
	Directory   *agent.Directory
	Store       store.Store
	Version     string
	StartedAt   time.Time
	ExecTimeout time.Duration
}

// All returns the fixed builtin tool set, ready for registration.
func All(deps Deps) []tools.Tool {
	b := &handlers{deps: deps}
	return []tools.Tool{
		{
			Name:        "register_agent",
			Description: "Register the calling agent and its capabilities in the directory",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"agent_id":     {Type: "string"},
				"name":         {Type: "string"},
				"capabilities": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			}),
			Handler: tools.Unary(b.RegisterAgent),
		},
		{
			Name:        "list_agents",
			Description: "List registered agents and their capability sets",
			InputSchema: objectSchema(nil),
			Handler:     tools.Unary(b.ListAgents),
		},
		{
			Name:        "echo",
			Description: "Return the request parameters unchanged",
			InputSchema: objectSchema(nil),
			Handler:     tools.Unary(b.Echo),
		},
		{
			Name:        "system_info",
			Description: "Report host and broker runtime information",
			InputSchema: objectSchema(nil),
			Handler:     tools.Unary(b.SystemInfo),
		},
		{
			Name:        "file_read",
			Description: "Read a file from the broker host",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"path": {Type: "string"},
			}, "path"),
			Handler: tools.Unary(b.FileRead),
		},
		{
			Name:        "file_write",
			Description: "Write or append a file on the broker host",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"path":    {Type: "string"},
				"content": {Type: "string"},
				"append":  {Type: "boolean"},
			}, "path", "content"),
			Handler: tools.Unary(b.FileWrite),
		},
		{
			Name:        "execute_command",
			Description: "Run a command on the broker host and capture its output",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"command":         {Type: "string"},
				"args":            {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"dir":             {Type: "string"},
				"timeout_seconds": {Type: "integer"},
			}, "command"),
			Handler: tools.Unary(b.ExecuteCommand),
		},
		{
			Name:        "memory_store",
			Description: "Store a value under a key in the calling agent's memory",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"key":   {Type: "string"},
				"value": {},
			}, "key"),
			Handler: tools.Unary(b.MemoryStore),
		},
		{
			Name:        "memory_retrieve",
			Description: "Retrieve a memory by key, or list stored keys when no key is given",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"key": {Type: "string"},
			}),
			Handler: tools.Unary(b.MemoryRetrieve),
		},
		{
			Name:        "generate_text",
			Description: "Generate a text completion as a token stream",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"prompt":     {Type: "string"},
				"max_tokens": {Type: "integer"},
			}, "prompt"),
			Handler: tools.Streaming(b.GenerateText),
		},
	}
}

// RegisterAll registers the builtin set into a registry.
func RegisterAll(r *tools.Registry, deps Deps) error {
	for _, t := range All(deps) {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("registering builtin %q: %w", t.Name, err)
		}
	}
	return nil
}

// objectSchema builds an object schema from a property map.
func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

type handlers struct {
	deps Deps
}

type registerAgentInput struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

func (b *handlers) RegisterAgent(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	var in registerAgentInput
	if len(call.Params) > 0 {
		if err := json.Unmarshal(call.Params, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	id := in.AgentID
	if id == "" {
		id = call.Agent
	}
	if id == "" {
		return nil, fmt.Errorf("no agent identity: provide agent_id or set the envelope agent field")
	}

	b.deps.Directory.Register(agent.Info{
		ID:           id,
		Name:         in.Name,
		Capabilities: in.Capabilities,
		ConnID:       call.ConnID,
	})

	return json.Marshal(map[string]any{
		"registered":   true,
		"agent_id":     id,
		"capabilities": nonNil(in.Capabilities),
	})
}

type agentEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities"`
	RegisteredAt string   `json:"registered_at"`
}

func (b *handlers) ListAgents(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	infos := b.deps.Directory.List()

	entries := make([]agentEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, agentEntry{
			ID:           info.ID,
			Name:         info.Name,
			Capabilities: nonNil(info.Capabilities),
			RegisteredAt: info.RegisteredAt.Format(time.RFC3339),
		})
	}

	return json.Marshal(map[string]any{
		"agents": entries,
		"count":  len(entries),
	})
}

func (b *handlers) Echo(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	if len(call.Params) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return call.Params, nil
}

func (b *handlers) SystemInfo(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return json.Marshal(map[string]any{
		"hostname":       hostname,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"go_version":     runtime.Version(),
		"pid":            os.Getpid(),
		"goroutines":     runtime.NumGoroutine(),
		"broker_version": b.deps.Version,
		"uptime_seconds": int64(time.Since(b.deps.StartedAt).Seconds()),
	})
}

// nonNil keeps empty slices encoding as [] instead of null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
