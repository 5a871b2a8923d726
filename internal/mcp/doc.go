// Package mcp exposes the broker's tool registry to MCP clients over HTTP.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration.
// This package provides an MCP-compatible endpoint so clients like
// Claude Desktop or custom applications can discover and call broker
// tools without speaking the broker's WebSocket protocol.
//
// # Protocol
//
// The server implements the Streamable HTTP transport: JSON-RPC 2.0
// requests arrive via HTTP POST on a single endpoint.
//
//   - POST /mcp - JSON-RPC requests (initialize, tools/list, tools/call)
//   - DELETE /mcp - explicit session termination
//
// Server-initiated SSE streams are not supported; GET returns 405.
//
// # Sessions
//
// The initialize handshake issues a session id in the Mcp-Session-Id
// response header. Every subsequent request must present it. Sessions
// expire after an idle TTL; a background janitor reaps them and removes
// any agents registered through them from the directory.
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "initialize",
//	  "id": 1
//	}
//
// # Tool Discovery
//
// Clients call tools/list to discover available tools. The response
// carries each tool's input schema in JSON Schema format.
//
// # Tool Execution
//
// Clients call tools/call to execute a tool:
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "echo",
//	    "arguments": {"message": "hi"}
//	  },
//	  "id": 2
//	}
//
// Results are returned inline as text content. Streaming tools run to
// completion and their tokens are joined into a single text block,
// since this transport has no incremental channel. Tool failures come
// back as results with isError set rather than JSON-RPC errors.
//
// # Usage
//
// Create the server and mount it on a mux:
//
//	server, err := mcp.NewServer(mcp.Config{
//		Registry:  registry,
//		Directory: directory,
//		Logger:    logger,
//	})
//	server.RegisterRoutes(mux)
//	defer server.Close()
package mcp
