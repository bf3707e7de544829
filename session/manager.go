package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/keenanhx/guise/client"
)

// Manager owns a set of live sessions, evicting the ones that go idle.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxSessions     int
	idleTimeout     time.Duration
	cleanupInterval time.Duration

	shutdown chan struct{}
	once     sync.Once
}

// NewManager starts a manager with its background cleanup loop running.
func NewManager() *Manager {
	m := &Manager{
		sessions:        make(map[string]*Session),
		maxSessions:     100,
		idleTimeout:     30 * time.Minute,
		cleanupInterval: time.Minute,
		shutdown:        make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Create builds a new session and registers it. Returns the session ID.
func (m *Manager) Create(opts ...client.Option) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return "", fmt.Errorf("session limit reached (%d)", m.maxSessions)
	}
	s, err := New(opts...)
	if err != nil {
		return "", err
	}
	m.sessions[s.ID] = s
	return s.ID, nil
}

// Get looks a session up by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if !s.IsActive() {
		return nil, fmt.Errorf("session is closed: %s", id)
	}
	return s, nil
}

// Close shuts one session down and removes it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	s.Close()
	return nil
}

// List returns stats for every registered session.
func (m *Manager) List() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.sessions))
	for _, s := range m.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}

// Count reports the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SetMaxSessions adjusts the registration cap.
func (m *Manager) SetMaxSessions(n int) {
	m.mu.Lock()
	m.maxSessions = n
	m.mu.Unlock()
}

// SetIdleTimeout adjusts how long an unused session survives.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	m.idleTimeout = d
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop() {
	m.mu.RLock()
	interval := m.cleanupInterval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictIdle()
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.idleTimeout {
			s.Close()
			delete(m.sessions, id)
		}
	}
}

// Shutdown closes every session and stops the cleanup loop.
func (m *Manager) Shutdown() {
	m.once.Do(func() { close(m.shutdown) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
}
