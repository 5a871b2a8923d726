// ABOUTME: In-memory MCP session store with TTL-based expiry.
// ABOUTME: Sessions are issued on initialize and swept by a background janitor.

package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	createdAt       time.Time
	lastSeen        time.Time
}

// sessionStore manages active MCP sessions in memory.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*mcpSession
	ttl      time.Duration
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*mcpSession),
		ttl:      ttl,
	}
}

func (s *sessionStore) create(protocolVersion string) *mcpSession {
	now := time.Now()
	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		createdAt:       now,
		lastSeen:        now,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// touch looks a session up and refreshes its expiry clock. Expired
// sessions report as absent; the janitor owns their removal so the
// directory cleanup happens in one place.
func (s *sessionStore) touch(id string) (*mcpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || time.Since(sess.lastSeen) > s.ttl {
		return nil, false
	}
	sess.lastSeen = time.Now()
	return sess, true
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// expire removes all sessions idle past the TTL and returns their ids.
func (s *sessionStore) expire() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []string
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	return expired
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
