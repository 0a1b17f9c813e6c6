package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
)

const publishTimeout = 5 * time.Second

// Publisher publishes order events to the events topic exchange
type Publisher struct {
	conn   *Connection
	logger *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(conn *Connection, log *logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: log,
	}
}

// PublishOrderEvent publishes a persistent event routed by its action
func (p *Publisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	publishing := newPublishing(event, body, logger.RequestID(ctx))
	return p.publish(ctx, event.RoutingKey(), publishing)
}

func newPublishing(event *models.OrderEvent, body []byte, requestID string) amqp091.Publishing {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.Timestamp,
		Type:         event.Action,
	}
	if requestID != "" {
		publishing.Headers = amqp091.Table{"request_id": requestID}
	}
	return publishing
}

func (p *Publisher) publish(ctx context.Context, routingKey string, publishing amqp091.Publishing) error {
	requestID := logger.RequestID(ctx)

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := ch.PublishWithContext(
		ctx,
		EventsExchange, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		publishing,
	); err != nil {
		p.logger.Error("message_publish_failed",
			fmt.Sprintf("Failed to publish message to exchange %s", EventsExchange),
			requestID, err, map[string]interface{}{
				"routing_key": routingKey,
				"message_id":  publishing.MessageId,
			})
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("message_published",
		fmt.Sprintf("Published message to exchange %s", EventsExchange),
		requestID, map[string]interface{}{
			"routing_key":  routingKey,
			"message_id":   publishing.MessageId,
			"message_size": len(publishing.Body),
		})
	return nil
}
