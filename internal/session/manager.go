// Package session tracks the playback sessions of a process, each one a
// renderer bound to a key, providing create/remove/list operations used by
// the simulator.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/avsync/renderer"
)

// ErrNoRenderer is returned by Session.Run for a session created without a
// renderer.
var ErrNoRenderer = errors.New("session: no renderer")

// Session is one playback: a key bound to its renderer.
type Session struct {
	Key       string
	StartedAt time.Time
	Renderer  *renderer.Renderer
	done      chan struct{}
}

// Done is closed when the session is removed from its manager.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session's renderer until ctx ends or the session is
// removed from its manager, whichever comes first.
func (s *Session) Run(ctx context.Context) error {
	if s.Renderer == nil {
		return ErrNoRenderer
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return s.Renderer.Run(ctx)
}

// Manager manages the lifecycle of active sessions.
type Manager struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "session-manager"),
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session. Returns the session and true if created,
// or nil and false if a session with this key already exists.
func (m *Manager) Create(key string, r *renderer.Renderer) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Session{
		Key:       key,
		StartedAt: time.Now(),
		Renderer:  r,
		done:      make(chan struct{}),
	}

	m.sessions[key] = s
	attrs := []any{"key", key}
	if r != nil {
		attrs = append(attrs, "renderer", r.ID())
	}
	m.log.Info("session created", attrs...)
	return s, true
}

// Get returns the session for key, if any.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Remove removes a session from the manager and closes its Done channel,
// which stops a renderer started through Session.Run.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Info("session removed", "key", key, "uptime", time.Since(s.StartedAt).Round(time.Millisecond))
	}
}

// List returns all active sessions ordered by key.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Key < sessions[j].Key })
	return sessions
}

// Snapshot returns renderer stats for every session that has a renderer.
func (m *Manager) Snapshot() []renderer.Stats {
	var out []renderer.Stats
	for _, s := range m.List() {
		if s.Renderer != nil {
			out = append(out, s.Renderer.Stats())
		}
	}
	return out
}
