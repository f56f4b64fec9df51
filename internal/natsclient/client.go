// Package natsclient wraps the NATS JetStream API behind the small surface
// the platform needs: idempotent stream/consumer provisioning, durable pull
// subscriptions with timeout-tolerant fetches, and synchronous publishes.
package natsclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initialises a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// VerifyJetStream confirms the server actually has JetStream enabled by
// asking for account info. Routers call this during their fail-hard startup.
func (c *Client) VerifyJetStream() error {
	if _, err := c.JS.AccountInfo(); err != nil {
		return fmt.Errorf("jetstream unavailable: %w", err)
	}
	return nil
}

// Close drains and closes the underlying NATS connection.
// Drain() flushes all pending JetStream publish acknowledgments and
// outstanding subscription deliveries before closing, unlike Close()
// which drops in-flight messages immediately.
func (c *Client) Close() {
	if c.Conn != nil {
		// Drain blocks until all messages are flushed; fall back to Close
		// if Drain itself errors (e.g. already disconnected).
		if err := c.Conn.Drain(); err != nil {
			c.Conn.Close()
		}
	}
}

// Publish persists data on subject, blocking until the stream acknowledges.
func (c *Client) Publish(subject string, data []byte) error {
	if _, err := c.JS.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishCore sends data on subject over plain NATS, for control ticks that
// need no persistence.
func (c *Client) PublishCore(subject string, data []byte) error {
	if err := c.Conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PullSubscribe binds a durable pull subscription to an existing consumer on
// stream. The consumer must have been provisioned first (EnsureConsumer).
func (c *Client) PullSubscribe(subject, durable, stream string) (*nats.Subscription, error) {
	sub, err := c.JS.PullSubscribe(subject, durable, nats.BindStream(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to bind pull subscription %s/%s: %w", stream, durable, err)
	}
	return sub, nil
}

// Fetch pulls up to batch messages, waiting at most timeout. A timeout with
// nothing delivered is a normal idle condition and yields an empty batch,
// not an error.
func (c *Client) Fetch(ctx context.Context, sub *nats.Subscription, batch int, timeout time.Duration) ([]*nats.Msg, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs, err := sub.Fetch(batch, nats.Context(fetchCtx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return msgs, nil
}
