package analysis

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ozoneai/ozone/internal/events"
	"github.com/ozoneai/ozone/internal/logger"
	"github.com/ozoneai/ozone/internal/metrics"
)

// ManagerConfig holds what every session the manager creates shares.
type ManagerConfig struct {
	Endpoint     string
	StoreInNeo4j bool
	IdleTimeout  time.Duration
	Dialer       Dialer
	Metrics      *metrics.Metrics
	Publisher    events.Publisher
	Now          func() time.Time
}

// Manager tracks the analysis sessions running in this process.
type Manager struct {
	cfg      ManagerConfig
	logger   *logger.Logger
	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewManager(cfg ManagerConfig, logger *logger.Logger) *Manager {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// NewSession registers an idle session without starting it, so callers can
// subscribe before the first change.
func (m *Manager) NewSession(ownerID, query string) *Session {
	opts := []Option{
		WithOwner(ownerID),
		WithEndpoint(m.cfg.Endpoint),
		WithStoreInNeo4j(m.cfg.StoreInNeo4j),
		WithIdleTimeout(m.cfg.IdleTimeout),
		WithLogger(m.logger),
		WithMetrics(m.cfg.Metrics),
		WithPublisher(m.cfg.Publisher),
		WithClock(m.cfg.Now),
	}
	if m.cfg.Dialer != nil {
		opts = append(opts, WithDialer(m.cfg.Dialer))
	}
	session := NewSession(query, opts...)

	m.mu.Lock()
	m.sessions[session.ID()] = session
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.WithComponent("analysis-manager").Info("session created",
		slog.String("session_id", session.ID()),
		slog.String("user_id", ownerID),
		slog.Int("total_sessions", total))

	return session
}

// Start creates and starts a session. A session whose dial failed stays
// registered in the errored state so its snapshot can still be read.
func (m *Manager) Start(ctx context.Context, ownerID, query string) (*Session, string, error) {
	session := m.NewSession(ownerID, query)
	err := session.Start(logger.WithSessionID(ctx, session.ID()))
	return session, session.ID(), err
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	return session, ok
}

// List returns snapshots of the sessions owned by ownerID, newest first.
func (m *Manager) List(ownerID string) []Snapshot {
	m.mu.RLock()
	owned := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if session.OwnerID() == ownerID {
			owned = append(owned, session)
		}
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(owned))
	for _, session := range owned {
		snaps = append(snaps, session.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Close tears a session down and forgets it.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	session.Close()

	m.logger.WithComponent("analysis-manager").Info("session removed",
		slog.String("session_id", id),
		slog.Int("remaining_sessions", remaining))
	return true
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap removes terminal sessions that finished more than maxAge ago.
func (m *Manager) Reap(maxAge time.Duration) int {
	cutoff := m.cfg.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []*Session
	for id, session := range m.sessions {
		snap := session.Snapshot()
		if !snap.Terminal || snap.FinishedAt == nil || snap.FinishedAt.After(cutoff) {
			continue
		}
		stale = append(stale, session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, session := range stale {
		session.Close()
	}
	if len(stale) > 0 {
		m.logger.WithComponent("analysis-manager").Info("reaped finished sessions",
			slog.Int("reaped", len(stale)),
			slog.Duration("max_age", maxAge))
	}
	return len(stale)
}

// CloseAll closes every session. Used on shutdown.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	return len(sessions)
}
