package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration pointing at a local Mosquitto.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-ota-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

var testTopics = Topics{Prefix: "graylogic/ota-test/zwave"}

// connectOrSkip connects to the local broker or skips the test.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg, testTopics)
	if err != nil {
		t.Skipf("no MQTT broker at 127.0.0.1:1883: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Unit tests (no broker)
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "ota"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "graylogic-ota-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "ota" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect || !opts.Order {
		t.Errorf("AutoReconnect=%v Order=%v, want both true", opts.AutoReconnect, opts.Order)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v", opts.MaxReconnectInterval)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, testTopics.ServiceStatus(), "ota-1")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "graylogic/ota-test/zwave/service/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	var status ServiceStatus
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if status.Status != StatusOffline || status.ClientID != "ota-1" || status.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"ok", "a/b", []byte("x"), 1, nil},
		{"nil payload", "a/b", nil, 0, nil},
		{"empty topic", "", nil, 0, ErrInvalidTopic},
		{"bad qos", "a/b", nil, 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.want) {
				t.Errorf("validatePublish() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDispatch_RecoversAndLogs(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad") }, "t", nil)
	c.dispatch(func(string, []byte) error { return nil }, "t", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v", logger.warns)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("a/b", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if n := trackedSubscriptions(c); n != 0 {
		t.Error("failed subscriptions should not be tracked")
	}
}

func trackedSubscriptions(c *Client) int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

// =============================================================================
// Broker tests (skipped without a local Mosquitto)
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, "graylogic-ota-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if client.Topics() != testTopics {
		t.Errorf("Topics() = %+v", client.Topics())
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg, testTopics)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	pub := connectOrSkip(t, "graylogic-ota-test-pub")
	sub := connectOrSkip(t, "graylogic-ota-test-sub")

	received := make(chan string, 1)
	pattern := testTopics.AllNodes(KindEvent)
	err := sub.Subscribe(pattern, 1, func(topic string, payload []byte) error {
		nodeID, kind, ok := testTopics.ParseNode(topic)
		if !ok || nodeID != 7 || kind != KindEvent {
			t.Errorf("ParseNode(%q) = %d, %q, %v", topic, nodeID, kind, ok)
		}
		received <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if trackedSubscriptions(sub) != 1 {
		t.Error("subscription not tracked")
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(testTopics.NodeEvent(7), []byte(`{"event":"wake up"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if payload != `{"event":"wake up"}` {
			t.Errorf("payload = %q", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := sub.Unsubscribe(pattern); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if trackedSubscriptions(sub) != 0 {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

func TestOnDisconnectCallback(t *testing.T) {
	client := connectOrSkip(t, "graylogic-ota-test-ondisconnect")

	called := make(chan error, 1)
	client.SetOnDisconnect(func(err error) { called <- err })
	client.handleDisconnect(errors.New("simulated"))

	select {
	case err := <-called:
		if err == nil || err.Error() != "simulated" {
			t.Errorf("callback error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect callback not called")
	}
	if client.IsConnected() {
		t.Error("IsConnected() should be false after disconnect")
	}
}
