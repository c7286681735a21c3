package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultID is used for requests that carry no session header.
const DefaultID = "default"

var ErrNotFound = errors.New("session not found")

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers a callback run, outside the lock, for every
// session the janitor expires.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Touch records activity for a session, creating it on first sight.
// taskID may be empty when the request is not about a task.
func (m *Manager) Touch(sessionID, taskID string) *Session {
	sessionID = Normalize(sessionID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != StatusActive {
		s = &Session{ID: sessionID, Status: StatusActive, StartedAt: now}
		m.sessions[sessionID] = s
	}
	s.RequestCount++
	s.LastActivityAt = now
	if taskID = strings.TrimSpace(taskID); taskID != "" {
		s.LastTaskID = taskID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[Normalize(sessionID)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[Normalize(sessionID)]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = m.now()
	out := clone(s)
	delete(m.sessions, s.ID)
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return out, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() []*Session {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		expired = append(expired, clone(s))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
	return expired
}

// Normalize maps a blank header value to DefaultID.
func Normalize(sessionID string) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return DefaultID
	}
	return sessionID
}
