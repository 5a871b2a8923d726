// ABOUTME: Thread-safe name-to-tool registry with reject-on-collision semantics.
// ABOUTME: Reads are concurrent and never observe a partially-registered entry.

package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrToolNotFound indicates the named tool is not in the registry.
var ErrToolNotFound = errors.New("tool not found")

// ErrDuplicateTool indicates a registration collided with an existing name.
var ErrDuplicateTool = errors.New("duplicate tool")

// ErrInvalidTool indicates a registration with an empty name or nil handler.
var ErrInvalidTool = errors.New("invalid tool")

// Registry is the process-wide mapping from tool name to handler.
// Registration rejects collisions outright; overwriting would let a later
// registration silently capture another tool's traffic.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns ErrDuplicateTool if the name exists and
// ErrInvalidTool for an unusable definition.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: %q has no handler", ErrInvalidTool, t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %q already registered", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t

	r.logger.Debug("tool registered", "tool", t.Name, "streaming", t.IsStreaming())
	return nil
}

// Unregister removes a tool by name. Returns ErrToolNotFound if absent.
// Calls already holding a resolved copy complete with their handler.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	delete(r.tools, name)

	r.logger.Debug("tool unregistered", "tool", name)
	return nil
}

// Resolve returns a copy of the named tool.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tools[name]
	if !exists {
		return Tool{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return t, nil
}

// List returns a snapshot of all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
