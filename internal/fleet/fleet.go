package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-ota/internal/device"
	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

// writeBackTimeout bounds catalogue writes made from observer callbacks.
const writeBackTimeout = 5 * time.Second

// Link registers devices with the mesh link.
type Link interface {
	Register(deviceID string, nodeID int) (firmware.Node, error)
	Unregister(deviceID string)
}

// Catalogue is the subset of *device.Registry the fleet uses.
type Catalogue interface {
	ListUpdatable(ctx context.Context) []device.Device
	SetFirmwareVersion(ctx context.Context, id, version string) error
}

// Updaters is the subset of *firmware.Manager the fleet uses.
type Updaters interface {
	Add(node firmware.Node, rec *firmware.Record) (*firmware.Updater, error)
	Remove(id string) error
}

// StateStore loads and deletes persisted firmware state.
type StateStore interface {
	GetState(ctx context.Context, deviceID string) (*firmware.Record, error)
	DeleteState(ctx context.Context, deviceID string) error
}

// Forgetter drops per-device state held outside the manager, such as
// metric series or retained MQTT snapshots.
type Forgetter interface {
	Forget(deviceID string)
}

// Logger defines the logging interface used by the fleet.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the fleet's collaborators. Catalogue, Link, Updaters and
// States are required.
type Options struct {
	Catalogue Catalogue
	Link      Link
	Updaters  Updaters
	States    StateStore
	// Seeders are primed with each attached device's persisted record,
	// e.g. *firmware.Recorder.
	Seeders    []func(firmware.Record)
	Forgetters []Forgetter
	Logger     Logger
}

// Fleet attaches catalogue devices to the firmware manager.
//
// Thread Safety: All methods are safe for concurrent use.
type Fleet struct {
	catalogue  Catalogue
	link       Link
	updaters   Updaters
	states     StateStore
	seeders    []func(firmware.Record)
	forgetters []Forgetter
	logger     Logger

	mu       sync.Mutex
	attached map[string]int // device ID -> node ID
}

// New creates a fleet.
func New(opts Options) (*Fleet, error) {
	switch {
	case opts.Catalogue == nil:
		return nil, fmt.Errorf("device catalogue is required")
	case opts.Link == nil:
		return nil, fmt.Errorf("link is required")
	case opts.Updaters == nil:
		return nil, fmt.Errorf("firmware manager is required")
	case opts.States == nil:
		return nil, fmt.Errorf("state store is required")
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Fleet{
		catalogue:  opts.Catalogue,
		link:       opts.Link,
		updaters:   opts.Updaters,
		states:     opts.States,
		seeders:    opts.Seeders,
		forgetters: opts.Forgetters,
		logger:     logger,
		attached:   make(map[string]int),
	}, nil
}

// Load attaches every updatable catalogue device. A device that fails to
// attach is logged and skipped. Returns the number attached.
func (f *Fleet) Load(ctx context.Context) int {
	count := 0
	for _, dev := range f.catalogue.ListUpdatable(ctx) {
		if err := f.Sync(ctx, dev); err != nil {
			f.logger.Warn("attaching device failed", "device_id", dev.ID, "node_id", dev.NodeID, "error", err)
			continue
		}
		count++
	}
	f.logger.Info("firmware fleet loaded", "devices", count)
	return count
}

// Sync brings one device's attachment in line with its catalogue entry.
// A device that is already attached on the same node is left alone, so an
// install in progress survives unrelated edits. Disabling updates or moving
// the device to another node detaches it first.
func (f *Fleet) Sync(ctx context.Context, dev device.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	nodeID, attached := f.attached[dev.ID]
	if attached && dev.UpdatesEnabled && nodeID == dev.NodeID {
		return nil
	}
	if attached {
		f.detachLocked(dev.ID)
	}
	if !dev.UpdatesEnabled {
		return nil
	}
	return f.attachLocked(ctx, dev)
}

// Detach stops managing a device but keeps its persisted state.
func (f *Fleet) Detach(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachLocked(deviceID)
}

// Remove detaches a deleted device and discards its persisted state.
func (f *Fleet) Remove(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.detachLocked(deviceID)
	for _, fg := range f.forgetters {
		fg.Forget(deviceID)
	}
	if err := f.states.DeleteState(ctx, deviceID); err != nil && !errors.Is(err, firmware.ErrRecordNotFound) {
		return fmt.Errorf("deleting firmware state: %w", err)
	}
	return nil
}

// Attached reports whether a device is managed.
func (f *Fleet) Attached(deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.attached[deviceID]
	return ok
}

// Len returns the number of attached devices.
func (f *Fleet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attached)
}

func (f *Fleet) attachLocked(ctx context.Context, dev device.Device) error {
	rec, err := f.states.GetState(ctx, dev.ID)
	switch {
	case errors.Is(err, firmware.ErrRecordNotFound):
		rec = nil
	case err != nil:
		return fmt.Errorf("loading firmware state: %w", err)
	}

	node, err := f.link.Register(dev.ID, dev.NodeID)
	if err != nil {
		return fmt.Errorf("registering node: %w", err)
	}
	if rec != nil {
		for _, seed := range f.seeders {
			seed(*rec)
		}
	}
	if _, err := f.updaters.Add(node, rec); err != nil {
		f.link.Unregister(dev.ID)
		return fmt.Errorf("adding updater: %w", err)
	}

	f.attached[dev.ID] = dev.NodeID
	f.logger.Info("device attached", "device_id", dev.ID, "node_id", dev.NodeID, "restored", rec != nil)
	return nil
}

func (f *Fleet) detachLocked(deviceID string) {
	if _, ok := f.attached[deviceID]; !ok {
		return
	}
	if err := f.updaters.Remove(deviceID); err != nil && !errors.Is(err, firmware.ErrDeviceNotFound) {
		f.logger.Warn("removing updater", "device_id", deviceID, "error", err)
	}
	f.link.Unregister(deviceID)
	delete(f.attached, deviceID)
	f.logger.Info("device detached", "device_id", deviceID)
}

// StateChanged writes the installed version back to the catalogue.
func (f *Fleet) StateChanged(snap firmware.Snapshot) {
	if snap.InstalledVersion == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
	defer cancel()
	err := f.catalogue.SetFirmwareVersion(ctx, snap.DeviceID, snap.InstalledVersion)
	if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
		f.logger.Warn("recording firmware version", "device_id", snap.DeviceID, "error", err)
	}
}

// CheckCompleted implements firmware.Observer.
func (f *Fleet) CheckCompleted(firmware.CheckResult) {}

// InstallCompleted implements firmware.Observer.
func (f *Fleet) InstallCompleted(firmware.InstallReport) {}
