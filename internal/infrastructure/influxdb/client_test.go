package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "graylogic-dev-token",
		Org:           "graylogic",
		Bucket:        "ota",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the local InfluxDB or skips the test.
// RUN_INTEGRATION=1 turns a missing server into a failure.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}

func TestConnectAndHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := client.HealthCheck(cancelled); err == nil {
		t.Error("HealthCheck() should fail for a cancelled context")
	}
}

func TestWritePoint_NoAsyncErrors(t *testing.T) {
	client := connectOrSkip(t)

	var (
		mu       sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WritePoint(write.NewPoint(influxdb.MeasurementProgress,
		map[string]string{"device_id": "integration-test"},
		map[string]any{"percent": 50},
		time.Now()))
	client.Flush()

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}

func TestClose_StopsWrites(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	// Writes and flushes after close are dropped rather than panicking.
	client.WritePoint(write.NewPoint("x", nil, map[string]any{"v": 1}, time.Now()))
	client.Flush()
}
