// Package builtins provides the broker-hosted tool set.
//
// # Overview
//
// Builtins are tools the broker serves itself, with no agent process
// behind them. They cover agent registration and discovery, host
// access, per-agent memory, and a deterministic streaming text
// generator that exercises the token path end to end.
//
// # Tools
//
// The package provides 10 tools:
//
// Registration and discovery:
//
//   - register_agent: Record the calling agent and its capabilities
//   - list_agents: List registered agents and their capability sets
//
// Diagnostics:
//
//   - echo: Return the request parameters unchanged
//   - system_info: Report host and broker runtime information
//
// Host access:
//
//   - file_read: Read a file from the broker host
//   - file_write: Write or append a file on the broker host
//   - execute_command: Run a command and capture output and exit code
//
// Memory (backed by the SQLite store, scoped per agent):
//
//   - memory_store: Store a value under a key
//   - memory_retrieve: Retrieve a value by key, or list stored keys
//
// Streaming:
//
//   - generate_text: Emit a deterministic completion one token at a time
//
// # Registration
//
// Register the whole set into a tool registry:
//
//	builtins.RegisterAll(registry, builtins.Deps{
//		Directory: directory,
//		Store:     store,
//	})
//
// # Handler Shape
//
// Unary builtins are tools.Unary functions returning a single JSON
// result. generate_text is the one tools.Streaming builtin; it pushes
// tokens through the sink the dispatcher provides and relies on the
// sink for back-pressure and cancellation.
//
// Handlers validate their own parameters; the broker passes the raw
// request parameters through untouched. Host access builtins
// (file_read, file_write, execute_command) trust their caller: the
// broker is scoped to local, single-operator deployments.
package builtins
