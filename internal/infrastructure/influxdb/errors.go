package influxdb

import "errors"

// Errors returned by the telemetry client. Async write failures reach the
// SetOnError callback wrapped in ErrWriteFailed.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrWriteFailed      = errors.New("influxdb: write failed")
)
