// Package pubsub provides the event-stream client used to trigger scans.
// It wraps a NATS connection with reconnect handling and filters heartbeat
// messages so that subscribers only see real events.
package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
	"github.com/apache/infrastructure-reporting-dashboard/pkg/retry"
)

// heartbeatKey marks keepalive payloads; they are dropped before delivery.
const heartbeatKey = "stillalive"

// Event is one decoded event-stream payload.
type Event struct {
	Subject string
	Payload json.RawMessage
}

// Client manages the event-stream connection.
type Client struct {
	url    string
	logger *slog.Logger

	conn   *nats.Conn
	connMu sync.RWMutex

	// Connection options
	connectTimeout time.Duration
	reconnectWait  time.Duration
	maxReconnects  int

	reconnects atomic.Int32
	closed     atomic.Bool
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConnectTimeout sets the initial connection timeout.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.connectTimeout = timeout
		}
	}
}

// NewClient creates an event-stream client for the given NATS URL.
func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "pubsub", "NewClient", "url is required")
	}

	c := &Client{
		url:            url,
		logger:         slog.Default(),
		connectTimeout: 10 * time.Second,
		reconnectWait:  2 * time.Second,
		maxReconnects:  -1, // keep trying, stream loss is not fatal
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect establishes the connection, retrying with backoff.
func (c *Client) Connect(ctx context.Context) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}, func() error {
		return c.connect()
	})
}

func (c *Client) connect() error {
	conn, err := nats.Connect(c.url,
		nats.Timeout(c.connectTimeout),
		nats.ReconnectWait(c.reconnectWait),
		nats.MaxReconnects(c.maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("Event stream disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.reconnects.Add(1)
			c.logger.Info("Event stream reconnected", "reconnects", c.reconnects.Load())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "pubsub", "connect", "NATS connect")
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// Subscribe delivers non-heartbeat events on the returned channel until ctx is
// cancelled. The channel is closed on teardown; subscription errors after a
// successful subscribe are logged, not returned, because a dropped stream only
// delays the next trigger.
func (c *Client) Subscribe(ctx context.Context, subject string) (<-chan Event, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "pubsub", "Subscribe", "subscribe before connect")
	}

	raw := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(subject, raw)
	if err != nil {
		return nil, errors.WrapTransient(err, "pubsub", "Subscribe", "NATS subscription")
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				c.logger.Debug("Unsubscribe failed", "subject", subject, "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				if isHeartbeat(msg.Data) {
					continue
				}
				select {
				case events <- Event{Subject: msg.Subject, Payload: msg.Data}:
				case <-ctx.Done():
					return
				default:
					// Subscriber is behind; triggers coalesce downstream, so
					// dropping here loses nothing.
					c.logger.Debug("Dropping event, subscriber busy", "subject", subject)
				}
			}
		}
	}()

	return events, nil
}

// isHeartbeat reports whether a payload is a keepalive ping.
func isHeartbeat(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, ok := probe[heartbeatKey]
	return ok
}

// Connected reports whether the underlying connection is currently up.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains the connection. Safe to call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("Event stream drain failed", "error", err)
		}
		c.conn = nil
	}
}
