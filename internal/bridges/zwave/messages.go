package zwave

import (
	"time"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

// StatusMessage is published retained by the bridge whenever a node's
// reachability or firmware version changes.
type StatusMessage struct {
	Status          firmware.NodeStatus `json:"status"`
	FirmwareVersion string              `json:"firmware_version,omitempty"`
	Timestamp       time.Time           `json:"timestamp,omitzero"`
}

// EventMessage carries one node event.
type EventMessage struct {
	Event    string                   `json:"event"`
	Progress *firmware.UpdateProgress `json:"progress,omitempty"`
	Finished *firmware.UpdateFinished `json:"finished,omitempty"`
}

// Command names understood by the bridge.
const (
	CommandBeginOTAUpdate = "begin_ota_update"
)

// CommandMessage is sent to the bridge to act on a node.
type CommandMessage struct {
	// ID correlates the command with its AckMessage.
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	NodeID    int            `json:"node_id"`
	DeviceID  string         `json:"device_id"`
	Command   string         `json:"command"`
	File      *firmware.File `json:"file,omitempty"`
}

// AckStatus is the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted means the bridge started the operation.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the bridge could not start the operation.
	AckFailed AckStatus = "failed"

	// AckTimeout means the node did not respond to the bridge.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is the bridge's answer to a CommandMessage.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    int       `json:"node_id"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
