package zwave

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/mqtt"
)

// StatePublisher mirrors firmware snapshots to retained MQTT topics so
// dashboards and the bridge process can follow installs without polling
// the API. It satisfies firmware.Observer.
type StatePublisher struct {
	mqtt   MQTTClient
	topics mqtt.Topics
	logger Logger
}

// NewStatePublisher creates a publisher. logger may be nil.
func NewStatePublisher(client MQTTClient, topics mqtt.Topics, logger Logger) *StatePublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &StatePublisher{mqtt: client, topics: topics, logger: logger}
}

// StateChanged publishes snap retained. Failures are logged; the broker
// keeps the previous snapshot.
func (p *StatePublisher) StateChanged(snap firmware.Snapshot) {
	if !p.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("marshalling firmware state", "device_id", snap.DeviceID, "error", err)
		return
	}
	if err := p.mqtt.Publish(p.topics.FirmwareState(snap.DeviceID), payload, commandQoS, true); err != nil {
		p.logger.Warn("publishing firmware state", "device_id", snap.DeviceID, "error", err)
	}
}

// Forget removes the retained snapshot for a deleted device.
func (p *StatePublisher) Forget(deviceID string) {
	if !p.mqtt.IsConnected() {
		return
	}
	if err := p.mqtt.Publish(p.topics.FirmwareState(deviceID), nil, commandQoS, true); err != nil {
		p.logger.Warn("clearing firmware state", "device_id", deviceID, "error", err)
	}
}

// CheckCompleted is a no-op; the resulting snapshot is published instead.
func (p *StatePublisher) CheckCompleted(firmware.CheckResult) {}

// InstallCompleted is a no-op; the resulting snapshot is published instead.
func (p *StatePublisher) InstallCompleted(firmware.InstallReport) {}
