package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/logger"
)

// Topology names shared by the gateway and the audit subscriber
const (
	EventsExchange     = "pos_events"
	DeadLetterExchange = "pos_events_dlx"
	AuditQueue         = "pos_audit_queue"
	AuditDeadQueue     = "pos_audit_dlq"
	AuditBinding       = "order.#"
)

// Connection wraps a RabbitMQ connection and channel with reconnection logic
type Connection struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	logger     *logger.Logger
	url        string
	maxRetries int
}

// New connects to RabbitMQ and declares the order event topology
func New(cfg *config.Config, log *logger.Logger) (*Connection, error) {
	conn := &Connection{
		logger:     log,
		url:        cfg.RabbitMQURL(),
		maxRetries: 5,
	}

	if err := conn.connect(); err != nil {
		return nil, fmt.Errorf("failed to establish initial connection: %w", err)
	}
	return conn, nil
}

// connect dials with linear backoff. Callers hold mu or own the connection exclusively.
func (c *Connection) connect() error {
	var err error

	for i := 0; i < c.maxRetries; i++ {
		if err = c.dial(); err == nil {
			return nil
		}

		if i < c.maxRetries-1 {
			waitTime := time.Duration(i+1) * 2 * time.Second
			c.logger.Error("rabbitmq_connection_failed",
				fmt.Sprintf("Failed to connect to RabbitMQ, retrying in %v", waitTime),
				"startup", err, nil)
			time.Sleep(waitTime)
		}
	}

	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.maxRetries, err)
}

func (c *Connection) dial() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := setupTopology(ch); err != nil {
		c.logger.Error("rabbitmq_setup_failed", "Failed to set up topology", "startup", err, nil)
		ch.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = ch
	return nil
}

// setupTopology declares the events topic exchange, the audit queue bound to
// every order event, and a dead-letter queue for events that cannot be stored.
func setupTopology(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", EventsExchange, err)
	}

	if err := ch.ExchangeDeclare(DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", DeadLetterExchange, err)
	}

	if _, err := ch.QueueDeclare(AuditDeadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", AuditDeadQueue, err)
	}
	if err := ch.QueueBind(AuditDeadQueue, "", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", AuditDeadQueue, err)
	}

	if _, err := ch.QueueDeclare(
		AuditQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		amqp091.Table{
			"x-dead-letter-exchange": DeadLetterExchange,
		},
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", AuditQueue, err)
	}

	if err := ch.QueueBind(AuditQueue, AuditBinding, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s with routing key %s: %w", AuditQueue, AuditBinding, err)
	}
	return nil
}

// Channel returns the current channel, reconnecting first if the connection dropped
func (c *Connection) Channel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		c.closeLocked()
		if err := c.connect(); err != nil {
			return nil, fmt.Errorf("failed to reconnect: %w", err)
		}
	}
	return c.channel, nil
}

// IsClosed checks if the connection is closed
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == nil || c.conn.IsClosed()
}

// Reconnect drops the current connection and dials again
func (c *Connection) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return c.connect()
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && err != amqp091.ErrClosed {
			return err
		}
	}
	return nil
}
