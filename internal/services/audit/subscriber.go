package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/messaging"
	"restaurant-pos/internal/models"
)

// EventStore persists journaled events
type EventStore interface {
	InsertEvent(ctx context.Context, ev *models.OrderEvent) (bool, error)
	EventsByOrder(ctx context.Context, orderID string) ([]models.OrderEvent, error)
}

// Consumer delivers queue messages to a handler
type Consumer interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

// Subscriber writes every order event from the audit queue into the journal
type Subscriber struct {
	consumer Consumer
	store    EventStore
	logger   *logger.Logger
}

func NewSubscriber(consumer Consumer, store EventStore, log *logger.Logger) *Subscriber {
	return &Subscriber{
		consumer: consumer,
		store:    store,
		logger:   log,
	}
}

// Start consumes until ctx is cancelled or the consumer gives up
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	s.logger.Info("service_started", "Audit subscriber started", requestID, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.consumer.StartConsuming(ctx, s.handleEvent)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)
		s.gracefulShutdown(requestID)
		<-done
		return nil
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("consumer_failed", "Audit consumer failed", requestID, err, nil)
			return err
		}
		return nil
	}
}

// handleEvent validates one message body and journals it
func (s *Subscriber) handleEvent(ctx context.Context, body []byte) error {
	requestID := logger.RequestID(ctx)

	var ev models.OrderEvent
	if err := messaging.ParseMessage(body, &ev); err != nil {
		s.logger.Error("message_parsing_failed", "Failed to parse order event", requestID, err, nil)
		return err
	}
	if err := validateEvent(&ev); err != nil {
		s.logger.Warn("event_rejected", "Order event rejected", requestID, map[string]interface{}{
			"event_id": ev.EventID,
			"reason":   err.Error(),
		})
		return messaging.Permanent(err)
	}

	inserted, err := s.store.InsertEvent(ctx, &ev)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"event_id": ev.EventID,
		"order_id": ev.OrderID,
		"action":   ev.Action,
	}
	if !inserted {
		s.logger.Debug("event_duplicate", "Order event already journaled", requestID, fields)
		return nil
	}
	s.logger.Info("event_journaled", "Order event journaled", requestID, fields)
	return nil
}

func validateEvent(ev *models.OrderEvent) error {
	if _, err := uuid.Parse(ev.EventID); err != nil {
		return fmt.Errorf("invalid event id %q", ev.EventID)
	}
	if ev.OrderID == "" {
		return errors.New("order id is required")
	}
	if ev.Action == "" {
		return errors.New("action is required")
	}
	if ev.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

func (s *Subscriber) gracefulShutdown(requestID string) {
	s.logger.Info("graceful_shutdown", "Starting graceful shutdown", requestID, nil)
	if err := s.consumer.Close(); err != nil {
		s.logger.Error("consumer_close_failed", "Failed to close consumer", requestID, err, nil)
	}
	s.logger.Info("graceful_shutdown", "Graceful shutdown completed", requestID, nil)
}
