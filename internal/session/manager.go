package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/pkg/pipeline"
)

var (
	// ErrSessionNotFound is returned for unknown or evicted session IDs.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrTooManySessions is returned by [Manager.Create] at capacity.
	ErrTooManySessions = errors.New("session: too many sessions")
)

// Defaults applied by [NewManager] to zero-value config fields.
const (
	DefaultMaxSessions = 256
	DefaultIdleTimeout = 30 * time.Minute
)

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// Runner executes side pipelines for every session. Required.
	Runner *Runner

	// MaxSessions caps live sessions. Defaults to [DefaultMaxSessions].
	MaxSessions int

	// IdleTimeout evicts sessions unused for this long. Defaults to
	// [DefaultIdleTimeout].
	IdleTimeout time.Duration

	// Defaults are the pipeline parameters requests start from.
	Defaults pipeline.Config

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Manager is the in-memory registry of sessions. All methods are safe for
// concurrent use.
type Manager struct {
	runner  *Runner
	metrics *observe.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	max      int
	idle     time.Duration
	defaults pipeline.Config
}

// NewManager creates an empty [Manager].
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		runner:   cfg.Runner,
		metrics:  cfg.Metrics,
		now:      time.Now,
		sessions: make(map[string]*Session),
		max:      cfg.MaxSessions,
		idle:     cfg.IdleTimeout,
		defaults: cfg.Defaults,
	}
}

// Create registers a new session with a random UUID. Idle sessions are swept
// first so that a full registry of abandoned sessions does not block new
// learners.
func (m *Manager) Create() (*Session, error) {
	m.Sweep()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.max {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySessions, m.max)
	}
	s := newSession(uuid.NewString(), m.runner, m.metrics, m.now)
	m.sessions[s.id] = s
	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("session created", "session_id", s.id, "sessions", len(m.sessions))
	return s, nil
}

// Get returns the session registered under id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete closes and removes the session registered under id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	s.Close()
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session deleted", "session_id", id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Defaults returns the pipeline parameters new requests start from.
func (m *Manager) Defaults() pipeline.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaults
}

// SetDefaults replaces the default pipeline parameters. Cached side results
// stay valid: their cache key includes the parameters they were built with.
func (m *Manager) SetDefaults(cfg pipeline.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = cfg
}

// SetLimits changes the capacity and idle timeout. Non-positive values leave
// the current setting. Existing sessions over a lowered cap are kept.
func (m *Manager) SetLimits(maxSessions int, idle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxSessions > 0 {
		m.max = maxSessions
	}
	if idle > 0 {
		m.idle = idle
	}
}

// Sweep evicts sessions that have been idle longer than the idle timeout and
// are not busy: no run in flight and no live socket attached. It returns the
// number evicted.
func (m *Manager) Sweep() int {
	now := m.now()
	var evicted []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) >= m.idle && !s.Busy() {
			delete(m.sessions, id)
			evicted = append(evicted, s)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Info("session evicted after idle timeout", "session_id", s.id)
	}
	return len(evicted)
}

// Run sweeps idle sessions periodically until ctx is cancelled, then closes
// every remaining session. It always returns nil.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	interval := max(m.idle/4, time.Second)
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// CloseAll closes and removes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	if len(all) > 0 {
		m.metrics.ActiveSessions.Add(context.Background(), -int64(len(all)))
	}
}

// CheckCapacity is a readiness check that fails when no new session can be
// created.
func (m *Manager) CheckCapacity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.max {
		return fmt.Errorf("%w (%d/%d)", ErrTooManySessions, len(m.sessions), m.max)
	}
	return nil
}
