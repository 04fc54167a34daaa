package zwave

import "errors"

// Domain errors for the Z-Wave bridge package.
var (
	// ErrNotConnected is returned when the MQTT client has no broker session.
	ErrNotConnected = errors.New("zwave: not connected to broker")

	// ErrUnknownNode is returned for a firmware.Node this bridge did not create.
	ErrUnknownNode = errors.New("zwave: unknown node")

	// ErrNodeConflict is returned when a node ID is already registered to
	// another device.
	ErrNodeConflict = errors.New("zwave: node registered to another device")

	// ErrCommandTimeout is returned when the bridge does not acknowledge a
	// command in time.
	ErrCommandTimeout = errors.New("zwave: command not acknowledged")

	// ErrCommandRejected is returned when the bridge refuses a command.
	ErrCommandRejected = errors.New("zwave: command rejected")

	// ErrStopped is returned for commands issued after Stop.
	ErrStopped = errors.New("zwave: bridge stopped")
)
