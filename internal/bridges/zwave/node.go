package zwave

import (
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

// Node is a Z-Wave node as reported by the bridge. It satisfies
// firmware.Node.
type Node struct {
	deviceID string
	nodeID   int

	mu        sync.Mutex
	status    firmware.NodeStatus
	version   string
	nextID    int
	listeners map[string]map[int]nodeListener

	queueMu sync.Mutex
	queue   []firmware.Event
	wake    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type nodeListener struct {
	fn   firmware.Listener
	once bool
}

func newNode(deviceID string, nodeID int) *Node {
	n := &Node{
		deviceID:  deviceID,
		nodeID:    nodeID,
		status:    firmware.StatusUnknown,
		listeners: make(map[string]map[int]nodeListener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	n.wg.Add(1)
	go n.deliverLoop()
	return n
}

// ID returns the device identifier the node was registered under.
func (n *Node) ID() string { return n.deviceID }

// NodeID returns the Z-Wave node ID.
func (n *Node) NodeID() int { return n.nodeID }

// FirmwareVersion returns the last version the bridge reported.
func (n *Node) FirmwareVersion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

// Status returns the last reachability the bridge reported.
func (n *Node) Status() firmware.NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// On registers a persistent listener.
func (n *Node) On(event string, fn firmware.Listener) firmware.Unsubscribe {
	return n.addListener(event, fn, false)
}

// Once registers a listener that is removed when it first fires.
func (n *Node) Once(event string, fn firmware.Listener) firmware.Unsubscribe {
	return n.addListener(event, fn, true)
}

func (n *Node) addListener(event string, fn firmware.Listener, once bool) firmware.Unsubscribe {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	if n.listeners[event] == nil {
		n.listeners[event] = make(map[int]nodeListener)
	}
	n.listeners[event][id] = nodeListener{fn: fn, once: once}

	var removeOnce sync.Once
	return func() {
		removeOnce.Do(func() {
			n.mu.Lock()
			delete(n.listeners[event], id)
			n.mu.Unlock()
		})
	}
}

// applyStatus records a status report and queues a status change followed
// by the recovery event it implies. An asleep node that dies raises no wake
// up. The new status is visible before any event is delivered.
func (n *Node) applyStatus(msg StatusMessage) {
	n.mu.Lock()
	prev := n.status
	if msg.Status != "" {
		n.status = msg.Status
	}
	if msg.FirmwareVersion != "" {
		n.version = msg.FirmwareVersion
	}
	cur := n.status
	n.mu.Unlock()

	if prev == cur {
		return
	}
	n.enqueue(firmware.Event{Name: firmware.EventStatusChanged})
	switch prev {
	case firmware.StatusAsleep:
		if cur != firmware.StatusDead {
			n.enqueue(firmware.Event{Name: firmware.EventWakeUp})
		}
	case firmware.StatusDead:
		n.enqueue(firmware.Event{Name: firmware.EventAlive})
	}
}

// enqueue hands e to the delivery goroutine without blocking.
func (n *Node) enqueue(e firmware.Event) {
	select {
	case <-n.done:
		return
	default:
	}

	n.queueMu.Lock()
	n.queue = append(n.queue, e)
	n.queueMu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Node) deliverLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case <-n.wake:
		}

		n.queueMu.Lock()
		batch := n.queue
		n.queue = nil
		n.queueMu.Unlock()

		for _, e := range batch {
			n.deliver(e)
		}
	}
}

// deliver calls the listeners for e, consuming one-shot ones first.
func (n *Node) deliver(e firmware.Event) {
	n.mu.Lock()
	ids := make([]int, 0, len(n.listeners[e.Name]))
	for id := range n.listeners[e.Name] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]firmware.Listener, 0, len(ids))
	for _, id := range ids {
		l := n.listeners[e.Name][id]
		fns = append(fns, l.fn)
		if l.once {
			delete(n.listeners[e.Name], id)
		}
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// close stops delivery. Queued events are dropped.
func (n *Node) close() {
	n.closeOnce.Do(func() { close(n.done) })
	n.wg.Wait()
}
