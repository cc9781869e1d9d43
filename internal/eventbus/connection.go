package eventbus

import (
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "github.com/allisson/relay/internal/errors"
)

// ErrNotConnected is returned when no broker connection is available after an
// implicit reconnect attempt.
var ErrNotConnected = apperrors.Wrap(apperrors.ErrUnavailable, "no amqp connection available")

// Connection owns the single broker connection for the process and hides
// reconnect churn from everything above it. Connection loss is never fatal:
// every publish/consume attempt re-validates and reconnects before acting.
type Connection struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

// NewConnection creates a connection manager. No dial happens until Connect
// or the first Channel call.
func NewConnection(url string, logger *slog.Logger) *Connection {
	return &Connection{url: url, logger: logger}
}

// Connect establishes the broker connection. It returns false instead of an
// error on failure so callers can poll without unwinding; the failure is
// logged here. Safe to call concurrently, reconnecting is idempotent.
func (c *Connection) Connect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Connection) connectLocked() bool {
	if c.closed {
		return false
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return true
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		c.logger.Error("amqp connection failed", slog.Any("error", err))
		return false
	}

	c.conn = conn
	c.logger.Info("amqp connection established")

	// Reconnect when the broker drops us. The notification channel is closed
	// on graceful shutdown too; the closed flag keeps that from re-dialing.
	closings := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		reason, ok := <-closings
		if !ok {
			return
		}
		c.logger.Warn("amqp connection lost, reconnecting", slog.Any("reason", reason))
		c.Connect()
	}()

	return true
}

// IsConnected reports whether a live broker connection is held.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && !c.closed
}

// Channel opens a channel on the connection, attempting a reconnect first if
// needed. It fails fast with ErrNotConnected when the broker is unreachable.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectLocked() {
		return nil, ErrNotConnected
	}

	channel, err := c.conn.Channel()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open amqp channel")
	}
	return channel, nil
}

// Close tears the connection down. The manager is process-scoped: once closed
// it stays closed.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
