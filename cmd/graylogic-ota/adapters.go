package main

import (
	"github.com/nerrad567/gray-logic-ota/internal/bridges/zwave"
	"github.com/nerrad567/gray-logic-ota/internal/firmware"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/mqtt"
)

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Z-Wave bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements zwave.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements zwave.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Bridge handlers log their own failures.
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements zwave.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements zwave.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// linkAdapter narrows Bridge.Register to fleet.Link.
type linkAdapter struct {
	bridge *zwave.Bridge
}

// Register implements fleet.Link.
func (l *linkAdapter) Register(deviceID string, nodeID int) (firmware.Node, error) {
	node, err := l.bridge.Register(deviceID, nodeID)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Unregister implements fleet.Link.
func (l *linkAdapter) Unregister(deviceID string) {
	l.bridge.Unregister(deviceID)
}
