package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client queues firmware telemetry points for batched delivery to an
// InfluxDB v2 bucket. Writes never block the caller.
//
// All methods are safe for concurrent use. A closed client drops points.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu      sync.RWMutex
	open    bool
	onError func(error)
}

// Connect pings the server and prepares the batching write API for the
// configured org and bucket.
//
// Parameters:
//   - cfg: the influxdb config section
//
// Returns:
//   - *Client: an open client
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping failure
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	ic := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))
	if err := ping(context.Background(), ic, connectTimeout); err != nil {
		ic.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{client: ic, writeAPI: ic.WriteAPI(cfg.Org, cfg.Bucket), open: true}
	go c.handleWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// clientOptions applies the configured batching, substituting defaults for
// non-positive values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- positive
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive
}

func ping(ctx context.Context, ic influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy, err := ic.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("ping: %w", err)
	case !healthy:
		return errors.New("server not healthy")
	}
	return nil
}

// handleWriteErrors forwards failed batches to the error callback until
// the write API closes its channel.
func (c *Client) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError installs the callback for asynchronous write failures.
func (c *Client) SetOnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// IsConnected reports whether Close has not yet been called. Use
// HealthCheck for an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client, pingTimeout); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// WritePoint queues p for the next batch.
func (c *Client) WritePoint(p *write.Point) {
	if c.IsConnected() {
		c.writeAPI.WritePoint(p)
	}
}

// Flush blocks until queued points are written. No-op once closed.
func (c *Client) Flush() {
	if c.writeAPI != nil && c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes queued points and releases the client. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if wasOpen {
		c.writeAPI.Flush()
		c.client.Close()
	}
	return nil
}
