package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the subset of api.WriteAPI in use; tests swap it out.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client batches device telemetry into an InfluxDB v2 bucket. Writes never
// block; asynchronous failures go to the SetOnError callback.
type Client struct {
	server influxdb2.Client
	points pointWriter

	closed  atomic.Bool
	onError atomic.Pointer[func(error)]
}

// Connect pings the server and opens a batching write API for cfg.Org and
// cfg.Bucket. A disabled config yields ErrDisabled so the caller can run
// without telemetry.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch, flush := batchSettings(cfg)
	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive
	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*pingTimeout)
	defer cancel()
	if err := ping(ctx, server); err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	api := server.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{server: server, points: api}
	go c.forwardErrors(api.Errors())
	return c, nil
}

func ping(ctx context.Context, server influxdb2.Client) error {
	ok, err := server.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("ping: %w", err)
	case !ok:
		return fmt.Errorf("ping: server not ready")
	}
	return nil
}

// batchSettings applies defaults to non-positive batch size and flush
// interval.
func batchSettings(cfg config.InfluxDBConfig) (uint, time.Duration) {
	batch, flush := uint(defaultBatchSize), defaultFlushInterval
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		flush = cfg.FlushInterval
	}
	return batch, flush
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		if cb := c.onError.Load(); cb != nil {
			(*cb)(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError registers the callback for failed batch writes. It receives
// errors wrapping ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.onError.Store(&callback)
}

// IsConnected is false once Close has been called.
func (c *Client) IsConnected() bool {
	return c.points != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return ping(ctx, c.server)
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.points.Flush()
	}
}

// Close flushes what is buffered and releases the client. Writes after
// Close are dropped. Calling it again is harmless.
func (c *Client) Close() error {
	if c.points == nil || c.closed.Swap(true) {
		return nil
	}
	c.points.Flush()
	if c.server != nil {
		c.server.Close()
	}
	return nil
}
