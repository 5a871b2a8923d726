// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides memory and tool-call persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist, and parent directories are
// created as needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers unblocked while the audit path writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			agent_id   TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			emotion    TEXT NOT NULL DEFAULT 'neutral',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (agent_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);

		CREATE TABLE IF NOT EXISTS tool_calls (
			id          TEXT PRIMARY KEY,
			request_id  TEXT NOT NULL,
			conn_id     TEXT NOT NULL,
			agent_id    TEXT,
			tool        TEXT NOT NULL,
			emotion     TEXT NOT NULL DEFAULT 'neutral',
			status      TEXT NOT NULL,
			detail      TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,

			CHECK (status IN ('ok', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_created ON tool_calls(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_agent ON tool_calls(agent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PutMemory upserts a memory entry, preserving created_at on rewrite.
func (s *SQLiteStore) PutMemory(ctx context.Context, entry Memory) error {
	if entry.Key == "" {
		return fmt.Errorf("memory key must not be empty")
	}
	if entry.Emotion == "" {
		entry.Emotion = "neutral"
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO memories (agent_id, key, value, emotion, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET
			value = excluded.value,
			emotion = excluded.emotion,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.AgentID,
		entry.Key,
		string(entry.Value),
		entry.Emotion,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}

	s.logger.Debug("stored memory", "agent_id", entry.AgentID, "key", entry.Key)
	return nil
}

// GetMemory retrieves one memory entry.
// Returns ErrNotFound if the agent has nothing stored under the key.
func (s *SQLiteStore) GetMemory(ctx context.Context, agentID, key string) (*Memory, error) {
	query := `
		SELECT value, emotion, created_at, updated_at
		FROM memories
		WHERE agent_id = ? AND key = ?
	`

	var value, emotion, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, agentID, key).Scan(&value, &emotion, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}

	entry := &Memory{
		AgentID: agentID,
		Key:     key,
		Value:   []byte(value),
		Emotion: emotion,
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return entry, nil
}

// ListMemoryKeys returns the keys an agent has stored, sorted.
func (s *SQLiteStore) ListMemoryKeys(ctx context.Context, agentID string) ([]string, error) {
	query := `SELECT key FROM memories WHERE agent_id = ? ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing memory keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning memory key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RecordToolCall appends one invocation audit row.
func (s *SQLiteStore) RecordToolCall(ctx context.Context, rec ToolCall) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Emotion == "" {
		rec.Emotion = "neutral"
	}

	query := `
		INSERT INTO tool_calls (id, request_id, conn_id, agent_id, tool, emotion, status, detail, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.RequestID,
		rec.ConnID,
		rec.AgentID,
		rec.Tool,
		rec.Emotion,
		rec.Status,
		rec.Detail,
		rec.DurationMS,
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording tool call: %w", err)
	}
	return nil
}

// CountToolCalls returns the number of audit rows.
func (s *SQLiteStore) CountToolCalls(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_calls`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tool calls: %w", err)
	}
	return n, nil
}
