package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/logger"
)

// MessageHandler processes one delivery body
type MessageHandler func(ctx context.Context, body []byte) error

// ErrPermanent marks failures that retrying cannot fix. Such messages are
// dead-lettered instead of requeued.
var ErrPermanent = errors.New("permanent message failure")

// Permanent wraps err so the consumer dead-letters the message
func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// Consumer handles message consumption from RabbitMQ
type Consumer struct {
	conn        *Connection
	logger      *logger.Logger
	queueName   string
	consumerTag string
	prefetch    int
}

// NewConsumer creates a new message consumer
func NewConsumer(conn *Connection, log *logger.Logger, queueName, consumerTag string, prefetch int) *Consumer {
	return &Consumer{
		conn:        conn,
		logger:      log,
		queueName:   queueName,
		consumerTag: consumerTag,
		prefetch:    prefetch,
	}
}

// StartConsuming consumes until ctx is cancelled, reconnecting when the channel closes
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	for {
		err := c.consume(ctx, handler)
		if ctx.Err() != nil {
			c.logger.Info("consumer_stopped", "Consumer stopped by context", "", nil)
			return ctx.Err()
		}

		c.logger.Error("consumer_channel_closed", "Message channel closed, attempting to reconnect", "", err, nil)
		if err := c.conn.Reconnect(); err != nil {
			return fmt.Errorf("failed to reconnect after channel closed: %w", err)
		}
	}
}

func (c *Consumer) consume(ctx context.Context, handler MessageHandler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Qos(
		c.prefetch, // prefetch count
		0,          // prefetch size
		false,      // global
	); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,   // queue
		c.consumerTag, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("consumer_started",
		fmt.Sprintf("Started consuming from queue %s", c.queueName),
		"", map[string]interface{}{
			"queue":    c.queueName,
			"consumer": c.consumerTag,
			"prefetch": c.prefetch,
		})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.processMessage(ctx, d, handler)
		}
	}
}

// Acknowledger is the part of a delivery the consumer settles
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// processMessage runs the handler and settles the delivery
func (c *Consumer) processMessage(ctx context.Context, d amqp091.Delivery, handler MessageHandler) {
	requestID, _ := d.Headers["request_id"].(string)
	ctx = logger.WithRequestID(ctx, requestID)

	c.logger.Debug("message_received", "Processing message", requestID, map[string]interface{}{
		"queue":        c.queueName,
		"routing_key":  d.RoutingKey,
		"message_id":   d.MessageId,
		"delivery_tag": d.DeliveryTag,
	})

	c.settle(ctx, d, d.RoutingKey, d.Body, handler)
}

func (c *Consumer) settle(ctx context.Context, ack Acknowledger, routingKey string, body []byte, handler MessageHandler) {
	requestID := logger.RequestID(ctx)
	startTime := time.Now()

	processingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := handler(processingCtx, body)
	fields := map[string]interface{}{
		"queue":       c.queueName,
		"routing_key": routingKey,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}

	if err != nil {
		requeue := !errors.Is(err, ErrPermanent)
		fields["requeue"] = requeue
		c.logger.Error("message_processing_failed", "Failed to process message", requestID, err, fields)

		if nackErr := ack.Nack(false, requeue); nackErr != nil {
			c.logger.Error("message_nack_failed", "Failed to nack message", requestID, nackErr, nil)
		}
		return
	}

	c.logger.Debug("message_processed", "Successfully processed message", requestID, fields)
	if ackErr := ack.Ack(false); ackErr != nil {
		c.logger.Error("message_ack_failed", "Failed to ack message", requestID, ackErr, nil)
	}
}

// ParseMessage decodes a JSON body. Malformed bodies are permanent failures.
func ParseMessage(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return Permanent(err)
	}
	return nil
}

// Close cancels the consumer and closes the connection
func (c *Consumer) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	if ch, err := c.conn.Channel(); err == nil {
		if err := ch.Cancel(c.consumerTag, false); err != nil {
			c.logger.Error("consumer_cancel_failed", "Failed to cancel consumer", "", err, nil)
		}
	}
	return c.conn.Close()
}
