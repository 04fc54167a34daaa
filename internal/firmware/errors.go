package firmware

import (
	"errors"
	"fmt"
)

// Domain errors for the firmware package.
//
//	if errors.Is(err, firmware.ErrInstallInProgress) {
//	    // reject the request
//	}
var (
	// ErrNoCandidate is returned by BeginInstall, and is the panic value of
	// Install, when no candidate is selected.
	ErrNoCandidate = errors.New("firmware: no candidate selected")

	// ErrInstallInProgress is returned when an install is already running for the device.
	ErrInstallInProgress = errors.New("firmware: install already in progress")

	// ErrTransferFailed wraps a transport error raised while starting a file transfer.
	ErrTransferFailed = errors.New("firmware: transfer failed")

	// ErrInstallFailed is matched by InstallError for non-acceptable finish statuses.
	ErrInstallFailed = errors.New("firmware: install failed")

	// ErrFinishTimeout is returned when the device does not report completion
	// within the configured finish timeout.
	ErrFinishTimeout = errors.New("firmware: timed out waiting for update to finish")

	// ErrVersionUnavailable is returned when the requested version is not the selected candidate.
	ErrVersionUnavailable = errors.New("firmware: requested version is not available")

	// ErrDeviceNotFound is returned when no updater is registered for a device.
	ErrDeviceNotFound = errors.New("firmware: device not found")

	// ErrDeviceExists is returned when adding a device that already has an updater.
	ErrDeviceExists = errors.New("firmware: device already registered")

	// ErrStopped is returned when the updater is removed while an install is waiting.
	ErrStopped = errors.New("firmware: updater stopped")

	// ErrNothingToRefresh is returned by PollValue; firmware state is
	// refreshed by checks only.
	ErrNothingToRefresh = errors.New("firmware: there is no value to refresh for this entity")

	// ErrRecordNotFound is returned by repositories when no persisted state exists.
	ErrRecordNotFound = errors.New("firmware: record not found")
)

// InstallError reports a device-side install failure. Its message is the
// humanized status name, e.g. "Error Timeout".
type InstallError struct {
	Status UpdateStatus
}

func (e *InstallError) Error() string {
	return e.Status.Humanize()
}

// Is lets errors.Is(err, ErrInstallFailed) match any InstallError.
func (e *InstallError) Is(target error) bool {
	return target == ErrInstallFailed
}

// transferError wraps a link error so both the sentinel and the cause match.
func transferError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}
