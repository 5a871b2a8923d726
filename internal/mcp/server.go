// ABOUTME: MCP-compatible HTTP endpoint exposing the broker's tool registry.
// ABOUTME: JSON-RPC 2.0 over POST with Mcp-Session-Id session management.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/mcp-broker/internal/agent"
	"github.com/2389/mcp-broker/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses.
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// defaultSessionTTL is how long an idle session survives before the
// janitor reaps it.
const defaultSessionTTL = 30 * time.Minute

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry  *tools.Registry
	Directory *agent.Directory
	Logger    *slog.Logger
	Version   string
	// SessionTTL overrides the idle session lifetime; zero means the default.
	SessionTTL time.Duration
}

// Server exposes the broker's registry to MCP-speaking clients over
// HTTP POST, without requiring them to speak the WebSocket protocol.
type Server struct {
	registry  *tools.Registry
	directory *agent.Directory
	logger    *slog.Logger
	version   string
	sessions  *sessionStore

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("directory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	s := &Server{
		registry:  cfg.Registry,
		directory: cfg.Directory,
		logger:    logger,
		version:   cfg.Version,
		sessions:  newSessionStore(ttl),
		done:      make(chan struct{}),
	}
	go s.sweepSessions()
	return s, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// Close stops the session janitor. Safe to call multiple times.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// sweepSessions reaps idle sessions and drops any directory entries
// registered through them.
func (s *Server) sweepSessions() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, id := range s.sessions.expire() {
				s.expireSession(id)
			}
		case <-s.done:
			return
		}
	}
}

func (s *Server) expireSession(id string) {
	removed := s.directory.RemoveConn(sessionConnID(id))
	s.logger.Info("MCP session expired", "session_id", id, "agents_removed", removed)
}

// sessionConnID gives MCP sessions a connection identity in the agent
// directory, so their registrations die with the session.
func sessionConnID(sessionID string) string {
	return "mcp:" + sessionID
}

// handleMCP is the single MCP endpoint supporting POST and DELETE per
// the Streamable HTTP transport spec.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session per the Streamable HTTP spec.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	if !s.sessions.delete(sessionID) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	removed := s.directory.RemoveConn(sessionConnID(sessionID))
	s.logger.Info("MCP session terminated", "session_id", sessionID, "agents_removed", removed)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize)
	if !isInitialize && protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	// Non-initialize requests require a live session
	if !isInitialize {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := s.sessions.touch(sessionID); !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sessionID,
	)

	// Handle notifications: accept and return HTTP 202 with no body
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req, sessionID)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	sess := s.sessions.create(latestProtocolVersion)

	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"protocol_version", sess.protocolVersion,
	)

	// Set the session ID header so the client can use it on subsequent requests
	w.Header().Set("Mcp-Session-Id", sess.id)

	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "mcp-broker",
			"version": s.version,
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	list := s.registry.List()

	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, 0, len(list)),
	}
	for _, tool := range list {
		// Tools registered without a schema still need an object schema
		// on this surface; clients reject null.
		schema := json.RawMessage(`{"type":"object"}`)
		if tool.InputSchema != nil {
			encoded, err := json.Marshal(tool.InputSchema)
			if err != nil {
				s.logger.Warn("skipping tool with unmarshalable schema", "tool", tool.Name, "error", err)
				continue
			}
			schema = encoded
		}
		result.Tools = append(result.Tools, MCPToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	s.logger.Debug("tools/list", "count", len(result.Tools))
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests by invoking the registry
// directly. Streaming tools are collected into a single text content.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, sessionID string) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	tool, err := s.registry.Resolve(params.Name)
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", nil)
		return
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	call := tools.Call{
		Params:  args,
		Emotion: "neutral",
		ConnID:  sessionConnID(sessionID),
	}

	s.logger.Debug("tools/call", "tool_name", params.Name, "session_id", sessionID)

	text, execErr := s.invoke(r.Context(), tool, call)
	if execErr != nil {
		switch {
		case errors.Is(execErr, context.DeadlineExceeded):
			s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "tool execution timed out", nil)
		case errors.Is(execErr, context.Canceled):
			s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "request cancelled", nil)
		default:
			// Tool-level failures are results, not protocol errors.
			s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
				Content: []MCPContent{{Type: "text", Text: execErr.Error()}},
				IsError: true,
			})
		}
		return
	}

	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: text}},
	})
}

// invoke runs a tool synchronously. Streaming handlers push into a
// collecting sink; their tokens are joined into one text block.
func (s *Server) invoke(ctx context.Context, tool tools.Tool, call tools.Call) (string, error) {
	switch h := tool.Handler.(type) {
	case tools.Unary:
		result, err := h(ctx, call)
		if err != nil {
			return "", err
		}
		return string(result), nil
	case tools.Streaming:
		sink := &collectSink{}
		if err := h(ctx, call, sink); err != nil {
			return "", err
		}
		return strings.Join(sink.parts, " "), nil
	default:
		return "", fmt.Errorf("tool %q has an unknown handler kind", tool.Name)
	}
}

// collectSink gathers stream tokens for the non-streaming MCP surface.
type collectSink struct {
	parts []string
}

func (c *collectSink) Emit(_ context.Context, content any) error {
	if s, ok := content.(string); ok {
		c.parts = append(c.parts, s)
		return nil
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	c.parts = append(c.parts, string(encoded))
	return nil
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
