// ABOUTME: Tests for the MCP HTTP endpoint: handshake, tool listing, and execution.
// ABOUTME: Validates session handling and JSON-RPC error responses.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/mcp-broker/internal/agent"
	"github.com/2389/mcp-broker/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestRegistry creates a registry with one unary, one streaming,
// and one always-failing tool.
func setupTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry(testLogger())

	testTools := []tools.Tool{
		{
			Name:        "reverse",
			Description: "Echo the raw parameters back",
			InputSchema: &jsonschema.Schema{Type: "object"},
			Handler: tools.Unary(func(ctx context.Context, call tools.Call) (json.RawMessage, error) {
				return call.Params, nil
			}),
		},
		{
			Name:        "count",
			Description: "Stream three tokens",
			InputSchema: &jsonschema.Schema{Type: "object"},
			Handler: tools.Streaming(func(ctx context.Context, call tools.Call, out tools.Sink) error {
				for _, tok := range []string{"one", "two", "three"} {
					if err := out.Emit(ctx, tok); err != nil {
						return err
					}
				}
				return nil
			}),
		},
		{
			Name:        "broken",
			Description: "Always fails",
			InputSchema: &jsonschema.Schema{Type: "object"},
			Handler: tools.Unary(func(ctx context.Context, call tools.Call) (json.RawMessage, error) {
				return nil, fmt.Errorf("it broke")
			}),
		},
	}
	for _, tool := range testTools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("registering %s: %v", tool.Name, err)
		}
	}
	return registry
}

func newTestServer(t *testing.T, ttl time.Duration) (*Server, *http.ServeMux, *agent.Directory) {
	t.Helper()
	directory := agent.NewDirectory(testLogger())
	server, err := NewServer(Config{
		Registry:   setupTestRegistry(t),
		Directory:  directory,
		Logger:     testLogger(),
		Version:    "test",
		SessionTTL: ttl,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(server.Close)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return server, mux, directory
}

// post sends a JSON-RPC request body and returns the recorder.
func post(mux *http.ServeMux, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

// initialize performs the handshake and returns the issued session id.
func initialize(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rr := post(mux, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("initialize status = %d", rr.Code)
	}
	sessionID := rr.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not issue a session id")
	}
	return sessionID
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestInitialize(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)

	rr := post(mux, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Mcp-Session-Id") == "" {
		t.Error("expected Mcp-Session-Id header")
	}

	resp := decodeResponse(t, rr)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	if result["protocolVersion"] != latestProtocolVersion {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	serverInfo, _ := result["serverInfo"].(map[string]any)
	if serverInfo["name"] != "mcp-broker" {
		t.Errorf("serverInfo.name = %v", serverInfo["name"])
	}
}

func TestNotificationAccepted(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	rr := post(mux, `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestRequiresSession(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)

	// No session header at all
	rr := post(mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing session: status = %d, want 400", rr.Code)
	}

	// Unknown session id
	rr = post(mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		map[string]string{"Mcp-Session-Id": "no-such-session"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("bogus session: status = %d, want 404", rr.Code)
	}
}

func TestToolsList(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	rr := post(mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp struct {
		Result MCPListToolsResult `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Result.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(resp.Result.Tools))
	}

	names := make(map[string]MCPToolInfo)
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = tool
	}
	reverse, ok := names["reverse"]
	if !ok {
		t.Fatal("reverse not listed")
	}
	if reverse.Description == "" || len(reverse.InputSchema) == 0 {
		t.Errorf("reverse listing incomplete: %+v", reverse)
	}
}

func TestToolsCallUnary(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	body := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"reverse","arguments":{"x":1}}}`
	rr := post(mux, body, map[string]string{"Mcp-Session-Id": sessionID})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp struct {
		Result MCPCallToolResult `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Result.IsError {
		t.Fatal("unexpected isError")
	}
	if len(resp.Result.Content) != 1 || resp.Result.Content[0].Text != `{"x":1}` {
		t.Errorf("content = %+v", resp.Result.Content)
	}
}

func TestToolsCallStreaming(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	body := `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"count","arguments":{}}}`
	rr := post(mux, body, map[string]string{"Mcp-Session-Id": sessionID})

	var resp struct {
		Result MCPCallToolResult `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Result.Content) != 1 || resp.Result.Content[0].Text != "one two three" {
		t.Errorf("content = %+v", resp.Result.Content)
	}
}

func TestToolsCallToolError(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	body := `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"broken"}}`
	rr := post(mux, body, map[string]string{"Mcp-Session-Id": sessionID})

	var resp struct {
		Result MCPCallToolResult `json:"result"`
		Error  *JSONRPCError     `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	// Tool failures are results with isError, not protocol errors
	if resp.Error != nil {
		t.Fatalf("unexpected protocol error: %+v", resp.Error)
	}
	if !resp.Result.IsError {
		t.Error("expected isError=true")
	}
	if len(resp.Result.Content) != 1 || !strings.Contains(resp.Result.Content[0].Text, "it broke") {
		t.Errorf("content = %+v", resp.Result.Content)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	body := `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"nope"}}`
	rr := post(mux, body, map[string]string{"Mcp-Session-Id": sessionID})

	resp := decodeResponse(t, rr)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidParams)
	}
}

func TestMethodNotFound(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	rr := post(mux, `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`,
		map[string]string{"Mcp-Session-Id": sessionID})

	resp := decodeResponse(t, rr)
	if resp.Error == nil || resp.Error.Code != JSONRPCMethodNotFound {
		t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCMethodNotFound)
	}
}

func TestMalformedRequests(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)

	t.Run("invalid JSON", func(t *testing.T) {
		rr := post(mux, `{not json`, nil)
		resp := decodeResponse(t, rr)
		if resp.Error == nil || resp.Error.Code != JSONRPCParseError {
			t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCParseError)
		}
	})

	t.Run("wrong jsonrpc version", func(t *testing.T) {
		rr := post(mux, `{"jsonrpc":"1.0","id":1,"method":"initialize"}`, nil)
		resp := decodeResponse(t, rr)
		if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
			t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidRequest)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		padding := bytes.Repeat([]byte("a"), MaxRequestBodySize+16)
		rr := post(mux, string(padding), nil)
		resp := decodeResponse(t, rr)
		if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
			t.Errorf("error = %+v, want code %d", resp.Error, JSONRPCInvalidRequest)
		}
	})

	t.Run("unsupported protocol version header", func(t *testing.T) {
		sessionID := initialize(t, mux)
		rr := post(mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{
			"Mcp-Session-Id":       sessionID,
			"Mcp-Protocol-Version": "1999-01-01",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestDeleteSession(t *testing.T) {
	_, mux, directory := newTestServer(t, 0)
	sessionID := initialize(t, mux)

	// Register an agent through this session's connection identity
	directory.Register(agent.Info{ID: "via-mcp", ConnID: sessionConnID(sessionID)})

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rr.Code)
	}

	if _, ok := directory.Get("via-mcp"); ok {
		t.Error("agent registered via session should be removed on delete")
	}

	// Second delete finds nothing
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestSessionExpiry(t *testing.T) {
	_, mux, _ := newTestServer(t, 20*time.Millisecond)
	sessionID := initialize(t, mux)

	time.Sleep(50 * time.Millisecond)

	rr := post(mux, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	if rr.Code != http.StatusNotFound {
		t.Errorf("expired session: status = %d, want 404", rr.Code)
	}
}

func TestSessionStoreExpire(t *testing.T) {
	s := newSessionStore(time.Hour)
	sess := s.create(latestProtocolVersion)

	if _, ok := s.touch(sess.id); !ok {
		t.Fatal("fresh session should resolve")
	}

	// Backdate the session past the TTL
	s.mu.Lock()
	s.sessions[sess.id].lastSeen = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	expired := s.expire()
	if len(expired) != 1 || expired[0] != sess.id {
		t.Errorf("expire() = %v, want [%s]", expired, sess.id)
	}
	if s.count() != 0 {
		t.Errorf("count = %d after expire", s.count())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, mux, _ := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rr.Code)
	}
}
