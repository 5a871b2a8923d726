// Package store provides SQLite-backed persistence for the broker.
//
// # Overview
//
// Two concerns live here, both outside the broker's own state:
//
//   - Memories: key-value entries written by the memory_store builtin,
//     scoped per agent, carrying the emotion tag of the writing request.
//   - Tool calls: an append-only audit trail of completed invocations,
//     written best-effort after each terminal response.
//
// The broker's registries (tools, agents) are deliberately not persisted;
// they are rebuilt from scratch on every start.
//
// # Schema
//
// Tables:
//
//	memories(agent_id, key, value, emotion, created_at, updated_at)
//	tool_calls(id, request_id, conn_id, agent_id, tool, emotion,
//	           status, detail, duration_ms, created_at)
//
// memories has a composite primary key (agent_id, key) and upserts on
// conflict. tool_calls constrains status to 'ok' or 'error'.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/mcp-broker/broker.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.PutMemory(ctx, store.Memory{
//	    AgentID: "aika",
//	    Key:     "favorite_color",
//	    Value:   json.RawMessage(`"teal"`),
//	    Emotion: "happy",
//	})
//
// The database runs in WAL mode with foreign keys on and a 5s busy
// timeout.
package store
