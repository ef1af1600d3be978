package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"queuewatch/internal/logger"
)

// ManagerConfig configures new sessions and their expiry.
type ManagerConfig struct {
	Defaults        Settings
	LogCapacity     int
	WebcamFPS       float64
	TTL             time.Duration
	CleanupInterval time.Duration // 0 disables the background janitor
}

// Manager owns every live session, keyed by id. Idle sessions expire after TTL.
type Manager struct {
	cache  *cache.Cache
	cfg    ManagerConfig
	logger *logger.Logger
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig, log *logger.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = cache.NoExpiration
	}
	c := cache.New(cfg.TTL, cfg.CleanupInterval)
	m := &Manager{cache: c, cfg: cfg, logger: log}
	c.OnEvicted(func(id string, _ interface{}) {
		m.logger.Debug("Session %s expired", id)
	})
	return m
}

// Create starts a new session with a fresh id.
func (m *Manager) Create() *Session {
	s := New(uuid.NewString(), m.cfg.Defaults, m.cfg.LogCapacity, m.cfg.WebcamFPS)
	m.cache.Set(s.ID, s, cache.DefaultExpiration)
	m.logger.Info("Session %s created", s.ID)
	return s
}

// Get returns a live session and extends its lifetime.
func (m *Manager) Get(id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*Session)
	m.cache.Set(id, s, cache.DefaultExpiration)
	return s, nil
}

// GetOrCreate returns the session for id, creating a new one when id is
// unknown. The boolean reports whether a session was created.
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if s, err := m.Get(id); err == nil {
		return s, false
	}
	return m.Create(), true
}

// Delete ends a session.
func (m *Manager) Delete(id string) {
	m.cache.Delete(id)
}

// Count is the number of live sessions.
func (m *Manager) Count() int {
	return m.cache.ItemCount()
}
