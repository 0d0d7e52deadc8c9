package editor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/id"
)

var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live sessions of one process.
type Manager struct {
	transformer Transformer
	opts        []Option

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(transformer Transformer, opts ...Option) *Manager {
	return &Manager{
		transformer: transformer,
		opts:        opts,
		sessions:    make(map[string]*Session),
	}
}

func (m *Manager) Create() *Session {
	s := NewSession(id.New(), m.transformer, m.opts...)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Restore creates or replaces the session named in snap.
func (m *Manager) Restore(snap domain.SessionSnapshot) (*Session, error) {
	s := NewSession(snap.SessionID, m.transformer, m.opts...)
	if err := s.Restore(snap); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	prev := m.sessions[s.ID()]
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return s, nil
}

func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Close()
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// RetainedPreviewBytes sums the preview buffers held across all sessions.
func (m *Manager) RetainedPreviewBytes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, s := range m.sessions {
		total += s.RetainedPreviewBytes()
	}
	return total
}
