package firmware

import (
	"context"
	"fmt"
)

// Discoverer queries the controller for firmware releases applicable to a
// device and selects the newest. Every query holds one limiter slot.
type Discoverer struct {
	controller Controller
	limiter    *Limiter
	apiKey     string
	logger     Logger
}

// NewDiscoverer creates a discoverer. limiter must be shared by every
// discoverer using the same controller.
func NewDiscoverer(controller Controller, limiter *Limiter, apiKey string) *Discoverer {
	return &Discoverer{
		controller: controller,
		limiter:    limiter,
		apiKey:     apiKey,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the discoverer.
func (d *Discoverer) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Discover returns the release with the greatest version, or nil when the
// registry offers none. Whether the release is newer than what the device
// runs is left to the caller.
//
// Parameters:
//   - ctx: Context for cancellation while waiting for a limiter slot
//   - node: Device to query for
//
// Returns:
//   - *Candidate: Best release, or nil
//   - error: Limiter or controller failure
func (d *Discoverer) Discover(ctx context.Context, node Node) (*Candidate, error) {
	if err := d.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for discovery slot: %w", err)
	}
	defer d.limiter.Release()

	candidates, err := d.controller.GetAvailableFirmwareUpdates(ctx, node, d.apiKey)
	if err != nil {
		return nil, fmt.Errorf("listing firmware updates: %w", err)
	}

	best, rejected := selectLatest(candidates)
	if len(rejected) > 0 {
		d.logger.Warn("ignoring firmware releases with invalid versions",
			"device_id", node.ID(),
			"versions", rejected,
		)
	}
	return best, nil
}
