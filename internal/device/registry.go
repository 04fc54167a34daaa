package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices returns all cached devices ordered by name.
func (r *Registry) ListDevices(_ context.Context) []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	sortByName(devices)
	return devices
}

// ListByTag returns devices carrying tag, ordered by name.
func (r *Registry) ListByTag(_ context.Context, tag string) []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Device
	for _, d := range r.cache {
		if d.HasTag(tag) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	sortByName(devices)
	return devices
}

// ListUpdatable returns devices with firmware updates enabled.
func (r *Registry) ListUpdatable(_ context.Context) []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var devices []Device
	for _, d := range r.cache {
		if d.UpdatesEnabled {
			devices = append(devices, *d.DeepCopy())
		}
	}
	sortByName(devices)
	return devices
}

// CreateDevice validates and persists a new device.
// ID and slug are generated when empty.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.Slug == "" {
		device.Slug = GenerateSlug(device.Name)
	}
	device.Tags = NormaliseTags(device.Tags)

	if err := ValidateDevice(device); err != nil {
		return err
	}
	if err := r.checkNodeIDFree(device); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name, "node_id", device.NodeID)
	return nil
}

// UpdateDevice validates and persists changes to an existing device.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	device.Tags = NormaliseTags(device.Tags)
	if err := ValidateDevice(device); err != nil {
		return err
	}
	if err := r.checkNodeIDFree(device); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetFirmwareVersion records a node's firmware version.
// Unchanged versions skip the write.
func (r *Registry) SetFirmwareVersion(ctx context.Context, id, version string) error {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	unchanged := ok && cached.InstalledVersion() == version
	r.cacheMu.RUnlock()
	if unchanged {
		return nil
	}

	if err := r.repo.SetFirmwareVersion(ctx, id, version); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[id]; ok {
		v := version
		d.FirmwareVersion = &v
	}
	r.cacheMu.Unlock()

	r.logger.Debug("firmware version recorded", "id", id, "version", version)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// checkNodeIDFree rejects a node ID already used by a different device.
func (r *Registry) checkNodeIDFree(device *Device) error {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	for id, d := range r.cache {
		if id != device.ID && d.NodeID == device.NodeID {
			return fmt.Errorf("%w: node %d is %s", ErrDeviceExists, device.NodeID, id)
		}
	}
	return nil
}

func sortByName(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		a, b := strings.ToLower(devices[i].Name), strings.ToLower(devices[j].Name)
		if a == b {
			return devices[i].ID < devices[j].ID
		}
		return a < b
	})
}
