// Package config handles configuration loading for mcp-broker.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. Omitted fields fall back to Default values, so an empty or
// minimal file is valid; the broker runs with no file at all.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	limits:
//	  tool_timeout: "60s"
//	  ping_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h. A tool_timeout of "0s" disables
// the per-call deadline.
//
// # Configuration Sections
//
// Server listener:
//
//	server:
//	  listen_addr: "127.0.0.1:8765"
//
// Transport and execution limits:
//
//	limits:
//	  max_message_bytes: 1048576
//	  outbound_buffer: 64
//	  tool_timeout: "60s"
//	  exec_timeout: "30s"
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//
// Storage:
//
//	storage:
//	  database_path: "mcp-broker.db"
//
// MCP compatibility endpoint:
//
//	mcp:
//	  enabled: true
//
// Tailscale (tsnet listener instead of TCP):
//
//	tailscale:
//	  enabled: true
//	  hostname: "mcp-broker"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
