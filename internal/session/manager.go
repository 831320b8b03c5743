package session

import (
	"sync"
)

// Factory creates the session of a counterparty. It must not start it.
type Factory func(counterpartyID string) *Session

// Manager keeps at most one live session, the one of the active
// conversation.
type Manager struct {
	mu       sync.Mutex
	factory  Factory
	onSwitch func(counterpartyID string)
	current  *Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSwitchHook runs fn after the previous session is torn down and before
// the next one starts. counterpartyID is empty on Close.
func WithSwitchHook(fn func(counterpartyID string)) ManagerOption {
	return func(m *Manager) { m.onSwitch = fn }
}

// NewManager creates a Manager with no live session.
func NewManager(factory Factory, opts ...ManagerOption) *Manager {
	m := &Manager{factory: factory}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SwitchActiveConversation tears down the current session, then creates and
// starts the session of counterpartyID. An empty id only tears down.
func (m *Manager) SwitchActiveConversation(counterpartyID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Teardown()
		m.current = nil
	}
	if m.onSwitch != nil {
		m.onSwitch(counterpartyID)
	}
	if counterpartyID == "" {
		return nil
	}
	s := m.factory(counterpartyID)
	m.current = s
	s.Start()
	return s
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close tears down the current session without creating another.
func (m *Manager) Close() {
	m.SwitchActiveConversation("")
}
