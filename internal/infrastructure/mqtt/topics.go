package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when Topics.Prefix is empty.
const DefaultTopicPrefix = "graylogic/ota/zwave"

// Topic kinds for per-node traffic between the Z-Wave bridge and OTA.
const (
	KindStatus  = "status"
	KindEvent   = "event"
	KindCommand = "command"
	KindAck     = "ack"
)

// Topics builds the OTA topic hierarchy under a configurable prefix:
//
//	{prefix}/node/{node_id}/status    bridge → ota, retained
//	{prefix}/node/{node_id}/event     bridge → ota
//	{prefix}/node/{node_id}/command   ota → bridge
//	{prefix}/node/{node_id}/ack       bridge → ota
//	{prefix}/state/{device_id}        ota → anyone, retained
//	{prefix}/service/status           ota online/offline (LWT)
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Node returns the topic for one kind of per-node traffic.
//
// Example: graylogic/ota/zwave/node/12/event
func (t Topics) Node(nodeID int, kind string) string {
	return fmt.Sprintf("%s/node/%d/%s", t.prefix(), nodeID, kind)
}

// NodeStatus returns the retained node status topic.
func (t Topics) NodeStatus(nodeID int) string { return t.Node(nodeID, KindStatus) }

// NodeEvent returns the node event topic.
func (t Topics) NodeEvent(nodeID int) string { return t.Node(nodeID, KindEvent) }

// NodeCommand returns the topic commands for a node are published to.
func (t Topics) NodeCommand(nodeID int) string { return t.Node(nodeID, KindCommand) }

// NodeAck returns the topic the bridge acknowledges commands on.
func (t Topics) NodeAck(nodeID int) string { return t.Node(nodeID, KindAck) }

// AllNodes returns a pattern matching one kind of traffic for every node.
//
// Pattern: graylogic/ota/zwave/node/+/event
func (t Topics) AllNodes(kind string) string {
	return fmt.Sprintf("%s/node/+/%s", t.prefix(), kind)
}

// FirmwareState returns the retained firmware snapshot topic for a device.
//
// Example: graylogic/ota/zwave/state/3f1c…
func (t Topics) FirmwareState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), deviceID)
}

// ServiceStatus returns the service online/offline topic.
func (t Topics) ServiceStatus() string {
	return t.prefix() + "/service/status"
}

// ParseNode extracts the node ID and kind from a per-node topic.
// Returns ok=false for topics outside the node hierarchy.
func (t Topics) ParseNode(topic string) (nodeID int, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/node/")
	if !found {
		return 0, "", false
	}
	idPart, kind, found := strings.Cut(rest, "/")
	if !found || kind == "" || strings.Contains(kind, "/") {
		return 0, "", false
	}
	id, err := strconv.Atoi(idPart)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, kind, true
}
