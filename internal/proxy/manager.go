package proxy

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const refreshTimeout = 30 * time.Second

// Provider fetches a proxy roster from its source.
type Provider interface {
	Fetch(ctx context.Context) ([]Settings, error)
}

// ManagerConfig configures the roster manager.
type ManagerConfig struct {
	Provider Provider
	Schedule string // cron expression, default "@every 10m"
}

// Manager keeps a hot-swappable roster refreshed on a cron schedule.
// Rotation state resets on every refresh.
type Manager struct {
	mu     sync.RWMutex
	roster *Roster

	provider   Provider
	cron       *cron.Cron
	refreshMu  sync.Mutex // serializes RefreshNow calls
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// NewManager creates a manager for the given provider.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	c := cron.New()
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	m := &Manager{
		provider:   cfg.Provider,
		cron:       c,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}

	if _, err := c.AddFunc(cfg.Schedule, func() {
		if err := m.RefreshNow(); err != nil {
			log.Printf("[proxy] scheduled refresh failed: %v", err)
		}
	}); err != nil {
		log.Printf("[proxy] invalid cron expression %q: %v", cfg.Schedule, err)
	}
	return m
}

// Start performs the initial refresh and starts the scheduler. A failed
// initial refresh leaves the roster empty (fetches go direct) rather than
// blocking startup; the next scheduled cycle retries.
func (m *Manager) Start() {
	if err := m.RefreshNow(); err != nil {
		log.Printf("[proxy] initial refresh failed: %v", err)
	}
	m.cron.Start()
}

// Stop stops the scheduler and cancels any in-flight refresh.
func (m *Manager) Stop() {
	m.lifeCancel()
	m.cron.Stop()
}

// Next returns the next proxy in rotation, or nil for a direct connection.
func (m *Manager) Next() *Settings {
	m.mu.RLock()
	r := m.roster
	m.mu.RUnlock()
	return r.Next()
}

// Len reports the current roster size.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roster.Len()
}

// RefreshNow fetches the roster from the provider and swaps it in. On
// failure the previous roster stays active.
func (m *Manager) RefreshNow() error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(m.lifeCtx, refreshTimeout)
	defer cancel()

	entries, err := m.provider.Fetch(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.roster = NewRoster(entries)
	m.mu.Unlock()
	log.Printf("[proxy] roster refreshed: %d proxies", len(entries))
	return nil
}
