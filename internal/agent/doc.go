// Package agent tracks which agents are registered with the broker.
//
// # Overview
//
// The Directory is a process-wide map from agent ID to the agent's
// declared capabilities and owning connection. Agents appear when a
// register_agent call names them and disappear when removed or when
// their owning connection tears down.
//
//	dir := agent.NewDirectory(logger)
//	dir.Register(agent.Info{ID: "coder", Capabilities: []string{"go"}})
//	infos := dir.List()
//
// Re-registering an ID replaces the previous entry wholesale,
// including its owner. RemoveConn supports connection teardown:
// it drops every entry the connection owns and reports which.
//
// The directory is an in-memory view of the current process; it is
// deliberately not persisted.
package agent
