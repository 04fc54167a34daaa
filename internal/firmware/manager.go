package firmware

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ManagerConfig holds settings shared by every device's updater.
type ManagerConfig struct {
	// APIKey is sent to the firmware registry with every query.
	APIKey string

	// CheckInterval between discoveries per device.
	CheckInterval time.Duration

	// FinishTimeout bounds each file's finish wait. Zero waits indefinitely.
	FinishTimeout time.Duration
}

// Manager owns one Updater per device on a link. All updaters share the
// injected Limiter.
type Manager struct {
	controller Controller
	limiter    *Limiter
	cfg        ManagerConfig
	logger     Logger
	observer   Observer

	mu       sync.RWMutex
	ctx      context.Context
	updaters map[string]*Updater
}

// NewManager creates a manager. limiter may be nil, in which case a limiter
// with DefaultMaxConcurrent slots is created for this manager alone.
func NewManager(controller Controller, limiter *Limiter, cfg ManagerConfig, logger Logger) *Manager {
	if limiter == nil {
		limiter = NewLimiter(DefaultMaxConcurrent)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		controller: controller,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
		observer:   noopObserver{},
		updaters:   make(map[string]*Updater),
	}
}

// SetObserver sets the observer passed to every updater added afterwards.
func (m *Manager) SetObserver(obs Observer) {
	if obs != nil {
		m.observer = obs
	}
}

// Limiter returns the shared admission limiter.
func (m *Manager) Limiter() *Limiter {
	return m.limiter
}

// Start starts every registered updater and any added later.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	updaters := make([]*Updater, 0, len(m.updaters))
	for _, u := range m.updaters {
		updaters = append(updaters, u)
	}
	m.mu.Unlock()

	for _, u := range updaters {
		u.Start(ctx)
	}
	m.logger.Info("firmware manager started", "devices", len(updaters))
}

// Add registers node and returns its updater. If the manager is running
// the updater starts immediately.
//
// Parameters:
//   - node: Device to manage
//   - rec: Previously persisted state, or nil
//
// Returns:
//   - *Updater: The new updater
//   - error: ErrDeviceExists if the device is already registered
func (m *Manager) Add(node Node, rec *Record) (*Updater, error) {
	d := NewDiscoverer(m.controller, m.limiter, m.cfg.APIKey)
	d.SetLogger(m.logger)

	u := NewUpdater(node, m.controller, d, UpdaterConfig{
		CheckInterval: m.cfg.CheckInterval,
		FinishTimeout: m.cfg.FinishTimeout,
	})
	u.SetLogger(m.logger)
	u.SetObserver(m.observer)
	if rec != nil {
		u.Restore(*rec)
	}

	m.mu.Lock()
	if _, exists := m.updaters[node.ID()]; exists {
		m.mu.Unlock()
		return nil, ErrDeviceExists
	}
	m.updaters[node.ID()] = u
	ctx := m.ctx
	m.mu.Unlock()

	if ctx != nil {
		u.Start(ctx)
	}
	return u, nil
}

// Remove stops and forgets the updater for id.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	u, ok := m.updaters[id]
	delete(m.updaters, id)
	m.mu.Unlock()

	if !ok {
		return ErrDeviceNotFound
	}
	u.Stop()
	return nil
}

// Get returns the updater for id.
func (m *Manager) Get(id string) (*Updater, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.updaters[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return u, nil
}

// List returns snapshots of every device ordered by device ID.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	updaters := make([]*Updater, 0, len(m.updaters))
	for _, u := range m.updaters {
		updaters = append(updaters, u)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(updaters))
	for _, u := range updaters {
		snaps = append(snaps, u.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].DeviceID < snaps[j].DeviceID })
	return snaps
}

// Len returns the number of managed devices.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.updaters)
}

// Stop stops every updater.
func (m *Manager) Stop() {
	m.mu.Lock()
	updaters := m.updaters
	m.updaters = make(map[string]*Updater)
	m.ctx = nil
	m.mu.Unlock()

	for _, u := range updaters {
		u.Stop()
	}
}
