package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/pricing"
)

func transitionError(from, to models.OrderStatus) error {
	return newError(KindConflict, MsgTransitionNotAllowed, map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// setStatus moves the order to status and publishes the change.
func (s *Session) setStatus(ctx context.Context, userID string, from, to models.OrderStatus) error {
	err := s.call(func() (*models.Order, error) {
		return s.store.UpdateOrderStatus(ctx, s.orderID, to)
	})
	if err != nil {
		return s.fail(ctx, "update_order_status", err, MsgOrderNotFound)
	}

	s.publish(ctx, models.NewStatusEvent(s.orderID, userID, from, to))
	s.log.Info("order_status_changed", fmt.Sprintf("Order %s: %s -> %s", s.orderID, from, to), logger.RequestID(ctx), map[string]interface{}{
		"order_id":   s.orderID,
		"old_status": from,
		"new_status": to,
		"user_id":    userID,
	})
	return nil
}

// ConfirmOrder sends the order to the kitchen: the order moves to PREPARING and
// every open line to IN_PROGRESS. The item updates are separate calls; when
// some fail the order is re-fetched anyway and the failures are returned.
func (s *Session) ConfirmOrder(ctx context.Context, userID string) error {
	order, err := s.requireLoaded()
	if err != nil {
		return err
	}
	if order.Status != models.StatusCreated {
		return transitionError(order.Status, models.StatusPreparing)
	}

	s.FlushPending()

	if err := s.setStatus(ctx, userID, order.Status, models.StatusPreparing); err != nil {
		return err
	}

	var errs []error
	for _, item := range s.current().Items {
		if item.Status != models.ItemCreated || item.IsRefund {
			continue
		}
		itemID := item.ID
		err := s.call(func() (*models.Order, error) {
			return s.store.UpdateItemStatus(ctx, s.orderID, itemID, models.ItemInProgress)
		})
		if err != nil {
			s.log.Error("update_item_status", "Failed to start item", logger.RequestID(ctx), err, map[string]interface{}{
				"order_id": s.orderID,
				"item_id":  itemID,
			})
			errs = append(errs, fmt.Errorf("item %s: %w", itemID, err))
		}
	}

	if err := s.Refresh(ctx); err != nil {
		errs = append(errs, err)
	}
	s.writeLog(ctx, models.LogOrderConfirmed, userID)

	if len(errs) > 0 {
		return &Error{
			Kind:   KindUnavailable,
			Key:    MsgConfirmIncomplete,
			Params: map[string]interface{}{"failed": len(errs)},
			Err:    errors.Join(errs...),
		}
	}
	return nil
}

// MarkReady moves a PREPARING order to READY.
func (s *Session) MarkReady(ctx context.Context, userID string) error {
	order, err := s.requireLoaded()
	if err != nil {
		return err
	}
	if !models.CanTransition(order.Status, models.StatusReady) {
		return transitionError(order.Status, models.StatusReady)
	}
	return s.setStatus(ctx, userID, order.Status, models.StatusReady)
}

// StartDelivery hands a delivery order to the courier.
func (s *Session) StartDelivery(ctx context.Context, userID string) error {
	order, err := s.requireLoaded()
	if err != nil {
		return err
	}
	if order.Type != models.Delivery {
		return newError(KindValidation, MsgNotDeliveryOrder, map[string]interface{}{"type": order.Type})
	}
	if !models.CanTransition(order.Status, models.StatusDelivering) {
		return transitionError(order.Status, models.StatusDelivering)
	}

	s.FlushPending()
	return s.setStatus(ctx, userID, order.Status, models.StatusDelivering)
}

// CompleteOrder closes a READY or DELIVERING order. An unpaid order with a
// positive total is refused with KindPaymentRequired carrying the amount due.
func (s *Session) CompleteOrder(ctx context.Context, userID string) error {
	if _, err := s.requireLoaded(); err != nil {
		return err
	}
	s.FlushPending()
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	order := s.current()
	if !models.CanTransition(order.Status, models.StatusCompleted) {
		return transitionError(order.Status, models.StatusCompleted)
	}

	total := pricing.OrderTotal(order)
	if !order.IsPaid() && total.IsPositive() {
		return newError(KindPaymentRequired, MsgPaymentRequired, map[string]interface{}{
			"amountDue": total.String(),
		})
	}

	if err := s.setStatus(ctx, userID, order.Status, models.StatusCompleted); err != nil {
		return err
	}
	s.writeLog(ctx, models.LogOrderCompleted, userID)
	return nil
}

// CancelOrder cancels an order that has not been confirmed. Pending
// additions are dropped without being sent once the order service accepts
// the cancel; if it refuses, they stay queued.
func (s *Session) CancelOrder(ctx context.Context, userID string) error {
	order, err := s.requireLoaded()
	if err != nil {
		return err
	}
	if order.Status != models.StatusCreated {
		return transitionError(order.Status, models.StatusCancelled)
	}

	// Timers are held while the status change is in flight so nothing new is
	// sent to an order being cancelled. On failure they are re-armed.
	s.mu.Lock()
	held := make([]models.LineKey, 0, len(s.pending))
	for key := range s.pending {
		if s.queue.Cancel(key) {
			held = append(held, key)
		}
	}
	s.mu.Unlock()
	s.waitFlushes()

	if err := s.setStatus(ctx, userID, order.Status, models.StatusCancelled); err != nil {
		s.mu.Lock()
		for _, key := range held {
			if entry, ok := s.pending[key]; ok && entry.quantity > entry.inFlight && !s.queue.Pending(key) {
				s.queue.Trigger(key, func() { s.flush(key) })
			}
		}
		s.mu.Unlock()
		return err
	}

	s.queue.Stop()
	s.mu.Lock()
	dropped := len(s.pending)
	for key, entry := range s.pending {
		if entry.inFlight == 0 {
			delete(s.pending, key)
			continue
		}
		// The in-flight part finishes; anything tapped on top of it is dropped.
		entry.quantity = entry.inFlight
	}
	s.mu.Unlock()
	s.waitFlushes()

	s.writeLog(ctx, models.LogOrderCancelled, userID)

	if dropped > 0 {
		s.log.Info("pending_dropped", "Pending additions dropped on cancel", logger.RequestID(ctx), map[string]interface{}{
			"order_id": s.orderID,
			"count":    dropped,
		})
	}
	return nil
}

// RefundItem refunds quantity units of a line, or the whole line when quantity
// is zero. The personal discount is recalculated afterwards.
func (s *Session) RefundItem(ctx context.Context, userID, itemID, reason string, quantity int) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return newError(KindValidation, MsgRefundReasonRequired, nil)
	}
	order, err := s.requireLoaded()
	if err != nil {
		return err
	}
	if !order.Status.IsRefundable() {
		return newError(KindConflict, MsgRefundNotAllowed, map[string]interface{}{"status": order.Status})
	}

	item, ok := order.FindItem(itemID)
	if !ok {
		return newError(KindNotFound, MsgItemNotFound, map[string]interface{}{"itemId": itemID})
	}
	if item.IsRefund || item.Status.IsAbsorbing() {
		return newError(KindConflict, MsgItemAlreadyRefunded, map[string]interface{}{"itemId": itemID})
	}
	if quantity < 0 || quantity > item.Quantity {
		return newError(KindValidation, MsgInvalidQuantity, map[string]interface{}{
			"quantity": quantity,
			"max":      item.Quantity,
		})
	}

	req := models.RefundRequest{Reason: reason}
	if quantity > 0 && quantity < item.Quantity {
		req.Quantity = &quantity
	}

	err = s.call(func() (*models.Order, error) {
		return s.store.RefundItem(ctx, s.orderID, itemID, req)
	})
	if err != nil {
		return s.fail(ctx, "refund_item", err, MsgItemNotFound)
	}

	if current := s.current(); current.Customer != nil {
		if err := s.call(func() (*models.Order, error) {
			return s.store.ApplyCustomerDiscount(ctx, s.orderID)
		}); err != nil {
			s.log.Error("refund_customer_discount", "Failed to recalculate personal discount after refund", logger.RequestID(ctx), err, map[string]interface{}{
				"order_id": s.orderID,
			})
		}
	}
	_ = s.Refresh(ctx)

	refunded := item.Quantity
	if req.Quantity != nil {
		refunded = *req.Quantity
	}
	s.writeLog(ctx, models.LogItemRefunded, userID)
	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventItemRefunded, userID, map[string]interface{}{
		"item_id":  itemID,
		"quantity": refunded,
		"reason":   reason,
	}))
	return nil
}

// SetPrecheck marks or unmarks the order as having a printed pre-payment receipt.
func (s *Session) SetPrecheck(ctx context.Context, userID string, value bool) error {
	order, err := s.requireLoaded()
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return newError(KindConflict, MsgOrderNotEditable, map[string]interface{}{"status": order.Status})
	}

	if err := s.store.SetPrecheckFlag(ctx, s.orderID, value); err != nil {
		return s.fail(ctx, "set_precheck", err, MsgOrderNotFound)
	}
	_ = s.Refresh(ctx)

	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventPrecheckChanged, userID, map[string]interface{}{
		"value": value,
	}))
	return nil
}

// AcknowledgeReorder clears the reordered attention flag.
func (s *Session) AcknowledgeReorder(ctx context.Context, userID string) error {
	if _, err := s.requireLoaded(); err != nil {
		return err
	}
	if err := s.store.SetReorderedFlag(ctx, s.orderID, false); err != nil {
		return s.fail(ctx, "set_reordered", err, MsgOrderNotFound)
	}
	_ = s.Refresh(ctx)

	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventReorderFlagged, userID, map[string]interface{}{
		"value": false,
	}))
	return nil
}
