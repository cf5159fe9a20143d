package withdraw

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore returns a process-local session store for development and tests.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]Session)}
}

func (m *memoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.K1]; exists {
		return ErrSessionExists
	}
	m.sessions[s.K1] = s
	return nil
}

func (m *memoryStore) Claim(_ context.Context, k1 string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[k1]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	delete(m.sessions, k1)
	return s, nil
}

func (m *memoryStore) Restore(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Expired(time.Now()) {
		return nil
	}
	if _, exists := m.sessions[s.K1]; !exists {
		m.sessions[s.K1] = s
	}
	return nil
}

func (m *memoryStore) DeleteByCard(_ context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k1, s := range m.sessions {
		if s.CardID == cardID {
			delete(m.sessions, k1)
		}
	}
	return nil
}

func (m *memoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k1, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, k1)
			removed++
		}
	}
	return removed, nil
}
