package device

import (
	"slices"
	"time"
)

// Device is a Z-Wave node registered for firmware management.
// This matches the devices table in migrations/20260301_090000_firmware_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	// NodeID is the Z-Wave node identifier on the controller's network.
	NodeID int `json:"node_id"`

	// Metadata reported by the node's interview.
	Manufacturer    *string `json:"manufacturer,omitempty"`
	Model           *string `json:"model,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`

	// UpdatesEnabled controls whether the node gets a firmware updater.
	UpdatesEnabled bool `json:"updates_enabled"`

	// Tags are free-form labels, e.g. ["battery", "ground_floor"].
	Tags []string `json:"tags,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy safe to hand out from the cache.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Tags = slices.Clone(d.Tags)
	return &cpy
}

// HasTag reports whether the device carries tag.
func (d *Device) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// InstalledVersion returns the recorded firmware version or "".
func (d *Device) InstalledVersion() string {
	if d.FirmwareVersion == nil {
		return ""
	}
	return *d.FirmwareVersion
}
