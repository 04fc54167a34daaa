package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Broadcast channels clients can subscribe to.
const (
	ChannelFirmwareState   = "firmware.state_changed"
	ChannelFirmwareCheck   = "firmware.check_completed"
	ChannelFirmwareInstall = "firmware.install_completed"
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans firmware events out to subscribed WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected dashboard or tool.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string // token subject, "anonymous" without auth

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware owns origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. The send channel is closed only by the
// caller that actually removed it, so shutdown and readPump never both close it.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers an event to clients subscribed to channel. Slow
// clients with a full buffer miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeWS(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if !client.isSubscribed(channel) {
			continue
		}
		client.trySend(data)
		delivered++
	}
	if delivered > 0 {
		h.logger.Debug("websocket event delivered", "channel", channel, "recipients", delivered)
	}
}

// encodeWS stamps msg with the current time and marshals it.
func encodeWS(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// checkEvent is the payload of ChannelFirmwareCheck.
type checkEvent struct {
	DeviceID   string    `json:"device_id"`
	Outcome    string    `json:"outcome"`
	Version    string    `json:"version,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	DurationMS int64     `json:"duration_ms"`
}

// installEvent is the payload of ChannelFirmwareInstall.
type installEvent struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Files       int       `json:"files"`
	Succeeded   bool      `json:"succeeded"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// StateChanged broadcasts a firmware snapshot. Hub implements
// firmware.Observer.
func (h *Hub) StateChanged(snap firmware.Snapshot) {
	h.Broadcast(ChannelFirmwareState, snap)
}

// CheckCompleted broadcasts the outcome of a registry check.
func (h *Hub) CheckCompleted(result firmware.CheckResult) {
	ev := checkEvent{
		DeviceID:   result.DeviceID,
		Outcome:    result.Outcome(),
		CheckedAt:  result.CheckedAt,
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Candidate != nil {
		ev.Version = result.Candidate.Version
	}
	if result.Err != nil {
		ev.Error = result.Err.Error()
	}
	h.Broadcast(ChannelFirmwareCheck, ev)
}

// InstallCompleted broadcasts the end of an install.
func (h *Hub) InstallCompleted(report firmware.InstallReport) {
	ev := installEvent{
		ID:          report.ID,
		DeviceID:    report.DeviceID,
		FromVersion: report.FromVersion,
		ToVersion:   report.ToVersion,
		Files:       report.Files,
		Succeeded:   report.Succeeded(),
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
	}
	if report.Err != nil {
		ev.Error = report.Err.Error()
	}
	h.Broadcast(ChannelFirmwareInstall, ev)
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication, when enabled, has already been done by authMiddleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		subject:       subjectFrom(r.Context()),
	}

	s.hub.Register(client)
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// keepalive derives the socket timings from config.
func keepalive(cfg config.WebSocketConfig) (ping, readWait, writeWait time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	writeWait = time.Duration(cfg.PongTimeout) * time.Second
	return ping, ping + writeWait, writeWait
}

// readPump consumes client messages until the socket fails. Any frame,
// not only pongs, pushes the read deadline out.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	_, readWait, _ := keepalive(cfg)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(readWait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		_ = extend()
		c.handleMessage(data)
	}
}

// writePump drains the send queue and pings on an interval. It exits when
// the hub closes the queue or a write fails.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ping, _, writeWait := keepalive(cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case data, open := <-c.send:
			if !open {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			err = write(websocket.TextMessage, data)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		channels, ok := c.channelsOf(msg)
		if !ok {
			return
		}
		c.mu.Lock()
		for _, ch := range channels {
			c.subscriptions[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.hub.logger.Info("websocket client subscribed", "channels", channels, "subject", c.subject)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": channels})
	case WSTypeUnsubscribe:
		channels, ok := c.channelsOf(msg)
		if !ok {
			return
		}
		c.mu.Lock()
		for _, ch := range channels {
			delete(c.subscriptions, ch)
		}
		c.mu.Unlock()
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// channelsOf extracts the channel list of a subscribe or unsubscribe
// message, replying with an error when it is malformed.
func (c *WSClient) channelsOf(msg WSMessage) ([]string, bool) {
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		var sub WSSubscribePayload
		if err = json.Unmarshal(raw, &sub); err == nil {
			return sub.Channels, true
		}
	}
	c.sendError(msg.ID, "invalid "+msg.Type+" payload")
	return nil, false
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	_, ok := c.subscriptions[channel]
	c.mu.RUnlock()
	return ok
}

// trySend queues data without blocking. A full queue drops the message; a
// queue closed by a concurrent Unregister is tolerated.
func (c *WSClient) trySend(data []byte) {
	defer func() { _ = recover() }()
	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeWS(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
