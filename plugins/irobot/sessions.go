package irobot

import (
	"context"
	"sync"
)

// Sessions guarantees at most one live session per robot.
type Sessions struct {
	mu   sync.Mutex
	live map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{live: make(map[string]*Session)}
}

// Open replaces any session for cfg.ID with a new, connecting one. The
// previous session is closed before the new one dials.
func (m *Sessions) Open(ctx context.Context, cfg SessionConfig, handler func(Event)) (*Session, error) {
	s, err := NewSession(cfg, handler)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.live[cfg.ID]
	m.live[cfg.ID] = s
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	if err := s.Connect(ctx); err != nil {
		m.release(cfg.ID, s)
		return nil, err
	}
	return s, nil
}

// Live returns the current session for id, if any.
func (m *Sessions) Live(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[id]
	return s, ok
}

// Close tears down the session for id.
func (m *Sessions) Close(id string) {
	m.mu.Lock()
	s := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// release closes s and forgets it if it is still the current session.
func (m *Sessions) release(id string, s *Session) {
	m.mu.Lock()
	if m.live[id] == s {
		delete(m.live, id)
	}
	m.mu.Unlock()
	s.Close()
}

func (m *Sessions) CloseAll() {
	m.mu.Lock()
	all := m.live
	m.live = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

// Connected counts sessions with an established connection.
func (m *Sessions) Connected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.live {
		if s.Connected() {
			n++
		}
	}
	return n
}
