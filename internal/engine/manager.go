package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/kv"
	"github.com/mrktfy/prospector/internal/listings"
)

// Manager owns the per-user sessions: lazy creation on first event, idle
// eviction, and bulk flush on shutdown.
type Manager struct {
	cfg     *config.Config
	kv      kv.Store
	checker *listings.Client
	sender  PushSender
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session registry.
func NewManager(cfg *config.Config, kvStore kv.Store, checker *listings.Client, sender PushSender, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		kv:       kvStore,
		checker:  checker,
		sender:   sender,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Session returns the user's session, creating and restoring one on first
// use with the default tier and empty criteria.
func (m *Manager) Session(ctx context.Context, userID string) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s
	}
	s := NewSession(userID, config.DefaultTier, UserCriteria{}, m.cfg, m.kv, m.checker, m.sender, m.logger)
	m.sessions[userID] = s
	m.mu.Unlock()

	s.Restore(ctx)
	return s
}

// Peek returns the user's session without creating one.
func (m *Manager) Peek(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Range calls fn for each live session.
func (m *Manager) Range(fn func(*Session)) {
	m.mu.Lock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// EvictIdle closes and removes sessions with no activity since the cutoff.
// Their persisted state is reloaded on the next event for that user.
func (m *Manager) EvictIdle(ctx context.Context, idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close(ctx)
	}
	if len(idle) > 0 {
		m.logger.Info("evicted idle sessions", "count", len(idle))
	}
	return len(idle)
}

// CloseAll shuts every session down, flushing state. Called on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}
