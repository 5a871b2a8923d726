// ABOUTME: Process-wide directory of registered agents and their capability sets.
// ABOUTME: Entries are owned by a connection and removed no later than its teardown.

package agent

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Info describes one registered agent. ConnID records the owning
// connection; the directory never manages connection lifetime, it only
// uses the id to clean up when the broker reports a teardown.
type Info struct {
	ID           string
	Name         string
	Capabilities []string
	ConnID       string
	RegisteredAt time.Time
}

// Directory is the process-wide agent registry. Registration is an
// upsert: re-registering an id replaces its capabilities and owning
// connection. Agent ids are process-wide, so a stale entry from a dead
// connection is displaced rather than duplicated.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]Info
	logger *slog.Logger
}

// NewDirectory creates an empty Directory.
func NewDirectory(logger *slog.Logger) *Directory {
	return &Directory{
		agents: make(map[string]Info),
		logger: logger,
	}
}

// Register upserts an agent entry and stamps its registration time.
func (d *Directory) Register(info Info) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info.Capabilities = append([]string(nil), info.Capabilities...)
	info.RegisteredAt = time.Now().UTC()

	if prev, exists := d.agents[info.ID]; exists && prev.ConnID != info.ConnID {
		d.logger.Info("agent re-registered from new connection",
			"agent_id", info.ID, "old_conn", prev.ConnID, "new_conn", info.ConnID)
	}
	d.agents[info.ID] = info

	d.logger.Debug("agent registered",
		"agent_id", info.ID, "conn_id", info.ConnID, "capabilities", info.Capabilities)
}

// Get returns the entry for an agent id.
func (d *Directory) Get(id string) (Info, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.agents[id]
	return info, ok
}

// List returns a point-in-time snapshot ordered by registration time,
// then id for entries registered in the same instant. Later mutations
// never alter a returned snapshot.
func (d *Directory) List() []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Info, 0, len(d.agents))
	for _, info := range d.agents {
		info.Capabilities = append([]string(nil), info.Capabilities...)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove deletes an agent entry. No-op when the id is absent.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.agents[id]; !exists {
		return
	}
	delete(d.agents, id)
	d.logger.Debug("agent removed", "agent_id", id)
}

// RemoveConn deletes every agent owned by the given connection and
// returns the removed ids. Called by the broker during teardown.
func (d *Directory) RemoveConn(connID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []string
	for id, info := range d.agents {
		if info.ConnID == connID {
			delete(d.agents, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		d.logger.Debug("agents removed with connection", "conn_id", connID, "agent_ids", removed)
	}
	return removed
}

// Count returns the number of registered agents.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.agents)
}
