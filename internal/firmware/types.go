package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// NodeStatus is the reachability of a device as reported by the link.
type NodeStatus string

// Node statuses.
const (
	StatusReady   NodeStatus = "ready"
	StatusAsleep  NodeStatus = "asleep"
	StatusDead    NodeStatus = "dead"
	StatusUnknown NodeStatus = "unknown"
)

// Link event names.
const (
	// EventWakeUp fires when a sleeping device wakes.
	EventWakeUp = "wake up"

	// EventAlive fires when a dead device becomes reachable again.
	EventAlive = "alive"

	// EventStatusChanged fires on every reachability change, ahead of any
	// wake up or alive event the change implies.
	EventStatusChanged = "status changed"

	// EventUpdateProgress fires repeatedly while a file is being transferred.
	EventUpdateProgress = "firmware update progress"

	// EventUpdateFinished fires once when the device has processed a file.
	EventUpdateFinished = "firmware update finished"
)

// UpdateProgress is the payload of EventUpdateProgress.
type UpdateProgress struct {
	SentFragments  int `json:"sent_fragments"`
	TotalFragments int `json:"total_fragments"`
}

// UpdateFinished is the payload of EventUpdateFinished.
type UpdateFinished struct {
	Status UpdateStatus `json:"status"`
}

// Event is delivered to listeners registered with Node.On or Node.Once.
// Progress and Finished are set only for their respective events.
type Event struct {
	Name     string
	Progress *UpdateProgress
	Finished *UpdateFinished
}

// Listener receives link events.
type Listener func(Event)

// Unsubscribe removes a listener. Calling it more than once is harmless.
type Unsubscribe func()

// Node is a device as seen through the mesh link. The orchestrator holds a
// non-owning reference; the link owns the device state.
type Node interface {
	// ID returns the stable device identifier.
	ID() string

	// FirmwareVersion returns the currently installed firmware version.
	FirmwareVersion() string

	// Status returns the current reachability.
	Status() NodeStatus

	// On registers a persistent listener for the named event.
	On(event string, fn Listener) Unsubscribe

	// Once registers a listener that is removed after its first firing.
	Once(event string, fn Listener) Unsubscribe
}

// Controller is the link controller that queries the firmware registry and
// starts OTA transfers.
type Controller interface {
	// GetAvailableFirmwareUpdates lists firmware releases applicable to node.
	GetAvailableFirmwareUpdates(ctx context.Context, node Node, apiKey string) ([]Candidate, error)

	// BeginOTAFirmwareUpdate starts transferring one file to node. It returns
	// once the transfer has been accepted; completion is reported through
	// EventUpdateFinished.
	BeginOTAFirmwareUpdate(ctx context.Context, node Node, file File) error
}

// File is one payload of a firmware release.
type File struct {
	Target    int    `json:"target"`
	URL       string `json:"url"`
	Integrity string `json:"integrity,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Candidate is a firmware release offered for a device. Files are installed
// in order. A candidate is never mutated after selection.
type Candidate struct {
	Version   string `json:"version"`
	ChangeLog string `json:"changelog"`
	Files     []File `json:"files"`
}

// UpdateStatus is the result code a device reports after processing a file.
type UpdateStatus int

// Update statuses as reported by the device.
const (
	UpdateErrorTimeout                  UpdateStatus = -1
	UpdateErrorChecksum                 UpdateStatus = 0
	UpdateErrorTransmissionFailed       UpdateStatus = 1
	UpdateErrorInvalidManufacturerID    UpdateStatus = 2
	UpdateErrorInvalidFirmwareID        UpdateStatus = 3
	UpdateErrorInvalidFirmwareTarget    UpdateStatus = 4
	UpdateErrorInvalidHeaderInformation UpdateStatus = 5
	UpdateErrorInvalidHeaderFormat      UpdateStatus = 6
	UpdateErrorInsufficientMemory       UpdateStatus = 7
	UpdateErrorInvalidHardwareVersion   UpdateStatus = 8
	UpdateOKWaitingForActivation        UpdateStatus = 253
	UpdateOKNoRestart                   UpdateStatus = 254
	UpdateOKRestartPending              UpdateStatus = 255
)

var updateStatusNames = map[UpdateStatus]string{
	UpdateErrorTimeout:                  "ERROR_TIMEOUT",
	UpdateErrorChecksum:                 "ERROR_CHECKSUM",
	UpdateErrorTransmissionFailed:       "ERROR_TRANSMISSION_FAILED",
	UpdateErrorInvalidManufacturerID:    "ERROR_INVALID_MANUFACTURER_ID",
	UpdateErrorInvalidFirmwareID:        "ERROR_INVALID_FIRMWARE_ID",
	UpdateErrorInvalidFirmwareTarget:    "ERROR_INVALID_FIRMWARE_TARGET",
	UpdateErrorInvalidHeaderInformation: "ERROR_INVALID_HEADER_INFORMATION",
	UpdateErrorInvalidHeaderFormat:      "ERROR_INVALID_HEADER_FORMAT",
	UpdateErrorInsufficientMemory:       "ERROR_INSUFFICIENT_MEMORY",
	UpdateErrorInvalidHardwareVersion:   "ERROR_INVALID_HARDWARE_VERSION",
	UpdateOKWaitingForActivation:        "OK_WAITING_FOR_ACTIVATION",
	UpdateOKNoRestart:                   "OK_NO_RESTART",
	UpdateOKRestartPending:              "OK_RESTART_PENDING",
}

// String returns the status name, e.g. "ERROR_TIMEOUT".
func (s UpdateStatus) String() string {
	if name, ok := updateStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", int(s))
}

// Humanize returns the status name in title case with spaces,
// e.g. "Error Invalid Manufacturer Id".
func (s UpdateStatus) Humanize() string {
	words := strings.Split(s.String(), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		lower := strings.ToLower(w)
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

// Acceptable reports whether the device accepted the file.
func (s UpdateStatus) Acceptable() bool {
	switch s {
	case UpdateOKNoRestart, UpdateOKRestartPending, UpdateOKWaitingForActivation:
		return true
	default:
		return false
	}
}

// ParseUpdateStatus resolves a status name such as "OK_NO_RESTART".
func ParseUpdateStatus(name string) (UpdateStatus, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for status, n := range updateStatusNames {
		if n == name {
			return status, true
		}
	}
	return 0, false
}

// UnmarshalJSON accepts the numeric code or its name, so links may report
// either 254 or "OK_NO_RESTART".
func (s *UpdateStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		status, ok := ParseUpdateStatus(name)
		if !ok {
			return fmt.Errorf("unknown update status %q", name)
		}
		*s = status
		return nil
	}
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("update status must be a number or a name: %w", err)
	}
	*s = UpdateStatus(code)
	return nil
}

// Logger defines the logging interface used by the firmware package.
// It is satisfied by *logging.Logger.
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
