// Package zwave links the firmware orchestrator to a Z-Wave controller
// bridge over MQTT.
//
// The bridge process owns the Z-Wave stick. This package sees each node
// through the topics it publishes and exposes them as firmware.Node values,
// and turns OTA requests into commands the bridge acknowledges.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   OTA service   │   MQTT   │  Z-Wave bridge  │   serial
//	│   (this pkg)    │◄────────►│    process      │◄────────► Z-Wave mesh
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
//	{prefix}/node/{id}/status    {"status":"asleep","firmware_version":"1.2"}  retained
//	{prefix}/node/{id}/event     {"event":"firmware update progress","progress":{...}}
//	{prefix}/node/{id}/command   {"id":"…","command":"begin_ota_update","file":{...}}
//	{prefix}/node/{id}/ack       {"command_id":"…","status":"accepted"}
//
// A status change out of asleep raises the "wake up" event and a change out
// of dead raises "alive", so listeners see the new status before the event.
//
// # Event Delivery
//
// MQTT handlers run on the client's ordered delivery goroutine and must not
// block. Each node queues its events and delivers them to listeners from its
// own goroutine, preserving order per node.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package zwave
