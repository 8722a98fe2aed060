// Package natsclient wraps the NATS connection used for the frame tap:
// connection management with retry, reconnect handling, and status
// metrics. Publishing is best effort; the protocol engine never blocks
// on NATS.
package natsclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/optseb/spinemlnet/errors"
	"github.com/optseb/spinemlnet/metric"
	"github.com/optseb/spinemlnet/pkg/retry"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string // client name shown in NATS monitoring
	MaxReconnects int    // -1 = retry forever
	ReconnectWait time.Duration
}

// DefaultConfig returns sensible NATS defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "spinemlnet",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Client manages a single NATS connection.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics // optional
	conn    *nats.Conn
}

// New creates an unconnected client.
func New(cfg Config, logger *slog.Logger, metrics *metric.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With("component", "natsclient"),
		metrics: metrics,
	}
}

// Connect establishes the NATS connection, retrying with backoff while
// the context allows.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Client", "Connect", "nats connect")
	}

	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
			if c.metrics != nil {
				c.metrics.RecordNATSStatus(false)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			if c.metrics != nil {
				c.metrics.RecordNATSReconnect()
				c.metrics.RecordNATSStatus(true)
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("nats connection closed")
			if c.metrics != nil {
				c.metrics.RecordNATSStatus(false)
			}
		}),
	}

	err := retry.Do(ctx, retry.Quick(), func() error {
		conn, cerr := nats.Connect(c.cfg.URL, opts...)
		if cerr != nil {
			c.logger.Warn("nats connect attempt failed", "url", c.cfg.URL, "error", cerr)
			return cerr
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "nats connect")
	}

	c.logger.Info("nats connected", "url", c.conn.ConnectedUrl())
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(true)
	}
	return nil
}

// Publish sends data to subject. Returns an error when disconnected or
// the publish fails; callers decide whether that matters.
func (c *Client) Publish(subject string, data []byte) error {
	if c.conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "nats publish")
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "nats publish")
	}
	return nil
}

// IsConnected reports the live connection status.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection. Safe to call when never
// connected.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed, closing hard", "error", err)
		c.conn.Close()
	}
	c.conn = nil
}
