package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager indexes live sessions by key.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sessions: make(map[string]*Session), logger: logger}
}

// GetOrCreate returns the session for id, creating it when absent.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false
	}
	s = newSession(id, m.logger)
	m.sessions[id] = s
	m.logger.Debug("session created", "session_id", id)
	return s, true
}

// Get returns the session for id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove forgets a session if it is still the one indexed under its key.
func (m *Manager) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Idle returns sessions with no activity since before cutoff, oldest first.
func (m *Manager) Idle(cutoff time.Time) []*Session {
	m.mu.RLock()
	var out []*Session
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity().Before(out[j].LastActivity()) })
	return out
}

// IDs returns the keys of every live session.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
