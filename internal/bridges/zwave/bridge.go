package zwave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
	"github.com/nerrad567/gray-logic-ota/internal/fwregistry"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/mqtt"
)

const (
	// DefaultCommandTimeout bounds the wait for a command acknowledgment.
	DefaultCommandTimeout = 10 * time.Second

	commandQoS = 1
)

// MQTTClient is the subset of MQTT operations the bridge needs.
// This allows mocking in tests; main adapts *mqtt.Client to it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription made with Subscribe.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// UpdateLister queries the firmware registry. It is satisfied by
// *fwregistry.Client.
type UpdateLister interface {
	ListUpdates(ctx context.Context, q fwregistry.Query, apiKey string) ([]firmware.Candidate, error)
}

// Logger defines the logging interface used by the bridge.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Registry answers firmware queries.
	Registry UpdateLister

	// Topics is the topic layout shared with the bridge process.
	Topics mqtt.Topics

	// CommandTimeout bounds the wait for an ack. DefaultCommandTimeout when zero.
	CommandTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// Bridge tracks nodes reported over MQTT and implements firmware.Controller.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt           MQTTClient
	registry       UpdateLister
	topics         mqtt.Topics
	commandTimeout time.Duration
	logger         Logger

	mu       sync.RWMutex
	nodes    map[int]*Node
	byDevice map[string]*Node
	// lastStatus holds reports for nodes not yet registered, so a retained
	// status that arrives first is not lost.
	lastStatus map[int]StatusMessage

	pendingMu sync.Mutex
	pending   map[string]chan AckMessage

	done     chan struct{}
	stopOnce sync.Once
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("firmware registry is required")
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Bridge{
		mqtt:           opts.MQTTClient,
		registry:       opts.Registry,
		topics:         opts.Topics,
		commandTimeout: timeout,
		logger:         logger,
		nodes:          make(map[int]*Node),
		byDevice:       make(map[string]*Node),
		lastStatus:     make(map[int]StatusMessage),
		pending:        make(map[string]chan AckMessage),
		done:           make(chan struct{}),
	}, nil
}

// Start subscribes to node status, events and acknowledgments.
func (b *Bridge) Start(_ context.Context) error {
	for _, kind := range []string{mqtt.KindStatus, mqtt.KindEvent, mqtt.KindAck} {
		topic := b.topics.AllNodes(kind)
		if err := b.mqtt.Subscribe(topic, commandQoS, b.handleMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", kind, err)
		}
		b.logger.Info("subscribed to node topic", "topic", topic)
	}
	return nil
}

// Stop drops the node subscriptions, fails pending commands and stops
// event delivery for every node.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.mqtt.IsConnected() {
			for _, kind := range []string{mqtt.KindStatus, mqtt.KindEvent, mqtt.KindAck} {
				if err := b.mqtt.Unsubscribe(b.topics.AllNodes(kind)); err != nil {
					b.logger.Warn("failed to unsubscribe node topic", "kind", kind, "error", err)
				}
			}
		}
		close(b.done)

		b.mu.Lock()
		nodes := make([]*Node, 0, len(b.nodes))
		for _, n := range b.nodes {
			nodes = append(nodes, n)
		}
		b.mu.Unlock()

		for _, n := range nodes {
			n.close()
		}
		b.logger.Info("zwave bridge stopped", "nodes", len(nodes))
	})
}

// Register returns the node for nodeID, creating it on first use.
// Registering the same pair twice returns the same node.
func (b *Bridge) Register(deviceID string, nodeID int) (*Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n, ok := b.nodes[nodeID]; ok {
		if n.deviceID != deviceID {
			return nil, fmt.Errorf("%w: node %d belongs to %s", ErrNodeConflict, nodeID, n.deviceID)
		}
		return n, nil
	}
	if n, ok := b.byDevice[deviceID]; ok {
		return nil, fmt.Errorf("%w: device %s is node %d", ErrNodeConflict, deviceID, n.nodeID)
	}

	n := newNode(deviceID, nodeID)
	if msg, ok := b.lastStatus[nodeID]; ok {
		n.applyStatus(msg)
		delete(b.lastStatus, nodeID)
	}
	b.nodes[nodeID] = n
	b.byDevice[deviceID] = n
	return n, nil
}

// Unregister forgets a device's node. Unknown devices are ignored.
func (b *Bridge) Unregister(deviceID string) {
	b.mu.Lock()
	n, ok := b.byDevice[deviceID]
	if ok {
		delete(b.byDevice, deviceID)
		delete(b.nodes, n.nodeID)
	}
	b.mu.Unlock()

	if ok {
		n.close()
	}
}

// Node returns the registered node for nodeID.
func (b *Bridge) Node(nodeID int) (*Node, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[nodeID]
	return n, ok
}

// NodeCount returns the number of registered nodes.
func (b *Bridge) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

// GetAvailableFirmwareUpdates asks the registry for releases for node.
func (b *Bridge) GetAvailableFirmwareUpdates(ctx context.Context, node firmware.Node, apiKey string) ([]firmware.Candidate, error) {
	return b.registry.ListUpdates(ctx, fwregistry.Query{
		DeviceID:        node.ID(),
		FirmwareVersion: node.FirmwareVersion(),
	}, apiKey)
}

// BeginOTAFirmwareUpdate asks the bridge process to start transferring file
// and waits for its acknowledgment.
func (b *Bridge) BeginOTAFirmwareUpdate(ctx context.Context, node firmware.Node, file firmware.File) error {
	n, err := b.lookup(node)
	if err != nil {
		return err
	}
	if !b.mqtt.IsConnected() {
		return ErrNotConnected
	}

	cmd := CommandMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		NodeID:    n.nodeID,
		DeviceID:  n.deviceID,
		Command:   CommandBeginOTAUpdate,
		File:      &file,
	}
	ack, err := b.send(ctx, cmd)
	if err != nil {
		return err
	}

	switch ack.Status {
	case AckAccepted:
		b.logger.Info("ota transfer accepted", "device_id", n.deviceID, "node_id", n.nodeID, "target", file.Target)
		return nil
	case AckTimeout:
		return fmt.Errorf("%w: node %d did not respond", ErrCommandTimeout, n.nodeID)
	default:
		if ack.Error != nil {
			return fmt.Errorf("%w: %s: %s", ErrCommandRejected, ack.Error.Code, ack.Error.Message)
		}
		return fmt.Errorf("%w: status %q", ErrCommandRejected, ack.Status)
	}
}

// lookup maps a firmware.Node back to the registered node.
func (b *Bridge) lookup(node firmware.Node) (*Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.byDevice[node.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, node.ID())
	}
	return n, nil
}

// send publishes cmd and waits for the matching ack.
func (b *Bridge) send(ctx context.Context, cmd CommandMessage) (AckMessage, error) {
	select {
	case <-b.done:
		return AckMessage{}, ErrStopped
	default:
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return AckMessage{}, fmt.Errorf("marshalling command: %w", err)
	}

	ch := make(chan AckMessage, 1)
	b.pendingMu.Lock()
	b.pending[cmd.ID] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, cmd.ID)
		b.pendingMu.Unlock()
	}()

	if err := b.mqtt.Publish(b.topics.NodeCommand(cmd.NodeID), payload, commandQoS, false); err != nil {
		return AckMessage{}, fmt.Errorf("publishing command: %w", err)
	}

	timer := time.NewTimer(b.commandTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		return AckMessage{}, fmt.Errorf("%w after %v", ErrCommandTimeout, b.commandTimeout)
	case <-ctx.Done():
		return AckMessage{}, ctx.Err()
	case <-b.done:
		return AckMessage{}, ErrStopped
	}
}

// handleMessage routes a per-node message. It never blocks.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	nodeID, kind, ok := b.topics.ParseNode(topic)
	if !ok {
		b.logger.Debug("ignoring topic", "topic", topic)
		return
	}

	var err error
	switch kind {
	case mqtt.KindStatus:
		err = b.handleStatus(nodeID, payload)
	case mqtt.KindEvent:
		err = b.handleEvent(nodeID, payload)
	case mqtt.KindAck:
		err = b.handleAck(payload)
	default:
		return
	}
	if err != nil {
		b.logger.Warn("invalid node message", "topic", topic, "error", err)
	}
}

func (b *Bridge) handleStatus(nodeID int, payload []byte) error {
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	b.mu.Lock()
	n, ok := b.nodes[nodeID]
	if !ok {
		b.lastStatus[nodeID] = msg
	}
	b.mu.Unlock()

	if ok {
		n.applyStatus(msg)
	}
	return nil
}

func (b *Bridge) handleEvent(nodeID int, payload []byte) error {
	var msg EventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.Event == "" {
		return errors.New("missing event name")
	}

	n, ok := b.Node(nodeID)
	if !ok {
		return nil
	}
	n.enqueue(firmware.Event{Name: msg.Event, Progress: msg.Progress, Finished: msg.Finished})
	return nil
}

func (b *Bridge) handleAck(payload []byte) error {
	var ack AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return err
	}

	b.pendingMu.Lock()
	ch, ok := b.pending[ack.CommandID]
	b.pendingMu.Unlock()

	if !ok {
		return nil
	}
	select {
	case ch <- ack:
	default:
	}
	return nil
}
