package session

import (
	"context"
	"strings"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
)

const maxFlushRounds = 3

// pendingAddition is the quantity tapped for one line key and not yet
// confirmed by the order service. inFlight is the part already sent.
type pendingAddition struct {
	quantity int
	inFlight int
}

// PendingRequest sets the quantity to add for a product, additives and comment combination
type PendingRequest struct {
	ProductID   string   `json:"productId" binding:"required"`
	AdditiveIDs []string `json:"additiveIds"`
	Comment     string   `json:"comment"`
	Quantity    int      `json:"quantity"`
}

// SetPendingQuantity records the quantity the waiter wants to add for a line
// key and (re)starts its debounce timer. Zero drops the addition without any
// call to the order service.
func (s *Session) SetPendingQuantity(ctx context.Context, req PendingRequest) error {
	if strings.TrimSpace(req.ProductID) == "" {
		return newError(KindValidation, MsgProductRequired, nil)
	}
	if req.Quantity < 0 {
		return newError(KindValidation, MsgInvalidQuantity, map[string]interface{}{"quantity": req.Quantity})
	}
	if _, err := s.requireEditable(); err != nil {
		return err
	}

	key := models.NewLineKey(req.ProductID, req.AdditiveIDs, req.Comment)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newError(KindConflict, MsgOrderNotLoaded, nil)
	}

	entry, ok := s.pending[key]
	if !ok {
		if req.Quantity == 0 {
			return nil
		}
		entry = &pendingAddition{}
		s.pending[key] = entry
	}

	// Quantity already sent cannot be taken back from here.
	quantity := req.Quantity
	if quantity < entry.inFlight {
		quantity = entry.inFlight
	}
	entry.quantity = quantity

	switch {
	case entry.quantity == 0:
		delete(s.pending, key)
		s.queue.Cancel(key)
	case entry.quantity == entry.inFlight:
		s.queue.Cancel(key)
	default:
		s.queue.Trigger(key, func() { s.flush(key) })
	}

	s.log.Debug("pending_quantity_set", "Pending addition updated", logger.RequestID(ctx), map[string]interface{}{
		"order_id":   s.orderID,
		"product_id": key.ProductID,
		"quantity":   entry.quantity,
	})
	return nil
}

// FlushPending sends every waiting addition now and waits for in-flight ones,
// including remainders tapped while they were in flight.
func (s *Session) FlushPending() {
	for i := 0; i < maxFlushRounds; i++ {
		s.queue.FlushAll()
		s.waitFlushes()
		if s.queue.Len() == 0 {
			return
		}
	}
}

// flush sends the unsent part of one pending addition. Only one flush per
// key is in flight at a time; taps arriving meanwhile are sent afterwards.
func (s *Session) flush(key models.LineKey) {
	s.mu.Lock()
	entry, ok := s.pending[key]
	if !ok || s.closed || entry.inFlight > 0 {
		s.mu.Unlock()
		return
	}
	amount := entry.quantity - entry.inFlight
	if amount <= 0 {
		s.mu.Unlock()
		return
	}
	entry.inFlight += amount
	order := s.order
	s.flushing++
	s.mu.Unlock()
	defer s.flushDone()

	ctx := logger.WithRequestID(context.Background(), logger.GenerateRequestID())
	err := s.sendAddition(ctx, order, key, amount)

	s.mu.Lock()
	entry.inFlight -= amount
	entry.quantity -= amount
	remainder := entry.quantity
	if remainder <= 0 {
		delete(s.pending, key)
	} else if !s.closed {
		s.queue.Trigger(key, func() { s.flush(key) })
	}
	s.mu.Unlock()

	if err != nil {
		pendingFlushes.WithLabelValues("error").Inc()
		se := classify(err, MsgItemNotFound)
		s.notify(ToastError, MsgAddItemFailed, map[string]interface{}{
			"productId": key.ProductID,
			"quantity":  amount,
			"reason":    se.Key,
		})
		return
	}
	pendingFlushes.WithLabelValues("ok").Inc()

	s.ApplyAutoDiscounts(ctx)
}

// sendAddition merges amount into the open CREATED line with the same key,
// or adds a new line. Lines already in the kitchen are never changed.
func (s *Session) sendAddition(ctx context.Context, order *models.Order, key models.LineKey, amount int) error {
	requestID := logger.RequestID(ctx)
	if order == nil || !order.Status.IsEditable() {
		return newError(KindConflict, MsgOrderNotEditable, nil)
	}

	line, merge := order.FindOpenLine(key)
	err := s.call(func() (*models.Order, error) {
		if merge {
			return s.store.UpdateItemQuantity(ctx, s.orderID, line.ID, line.Quantity+amount)
		}
		return s.store.AddItemToOrder(ctx, s.orderID, models.AddItemRequest{
			ProductID:   key.ProductID,
			Quantity:    amount,
			AdditiveIDs: key.AdditiveIDs(),
			Comment:     key.Comment,
		})
	})
	if err != nil {
		s.log.Error("pending_flush_failed", "Failed to send pending addition", requestID, err, map[string]interface{}{
			"order_id":   s.orderID,
			"product_id": key.ProductID,
			"quantity":   amount,
		})
		return err
	}

	// Canonical state first, then the entry is cleared by the caller.
	if err := s.call(func() (*models.Order, error) {
		return s.store.GetOrder(ctx, s.orderID)
	}); err != nil {
		s.log.Warn("refresh_failed", "Failed to re-fetch order after flush", requestID, map[string]interface{}{
			"order_id": s.orderID,
			"error":    err.Error(),
		})
	}

	if !merge && order.Status != models.StatusCreated {
		s.flagReorder(ctx)
	}

	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventItemsFlushed, "", map[string]interface{}{
		"product_id":   key.ProductID,
		"additive_ids": key.AdditiveIDs(),
		"quantity":     amount,
		"merged":       merge,
	}))

	s.log.Info("pending_flushed", "Pending addition sent", requestID, map[string]interface{}{
		"order_id":   s.orderID,
		"product_id": key.ProductID,
		"quantity":   amount,
		"merged":     merge,
	})
	return nil
}

func (s *Session) flushDone() {
	s.mu.Lock()
	s.flushing--
	if s.flushing == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Session) waitFlushes() {
	s.mu.Lock()
	for s.flushing > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

func (s *Session) flagReorder(ctx context.Context) {
	if err := s.store.SetReorderedFlag(ctx, s.orderID, true); err != nil {
		s.log.Error("reorder_flag_failed", "Failed to set reordered flag", logger.RequestID(ctx), err, map[string]interface{}{
			"order_id": s.orderID,
		})
		return
	}
	if err := s.call(func() (*models.Order, error) {
		return s.store.GetOrder(ctx, s.orderID)
	}); err != nil {
		s.log.Warn("refresh_failed", "Failed to re-fetch order after reorder flag", logger.RequestID(ctx), map[string]interface{}{
			"order_id": s.orderID,
			"error":    err.Error(),
		})
	}
	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventReorderFlagged, "", nil))
}

// ChangeItemQuantity sets the quantity of a line that has not reached the
// kitchen yet. Zero removes the line.
func (s *Session) ChangeItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	if quantity < 0 {
		return newError(KindValidation, MsgInvalidQuantity, map[string]interface{}{"quantity": quantity})
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, userID, itemID)
	}
	if _, err := s.openItem(itemID); err != nil {
		return err
	}

	err := s.call(func() (*models.Order, error) {
		return s.store.UpdateItemQuantity(ctx, s.orderID, itemID, quantity)
	})
	if err != nil {
		return s.fail(ctx, "update_item_quantity", err, MsgItemNotFound)
	}

	s.ApplyAutoDiscounts(ctx)
	return nil
}

// RemoveItem deletes a line that has not reached the kitchen yet.
func (s *Session) RemoveItem(ctx context.Context, userID, itemID string) error {
	item, err := s.openItem(itemID)
	if err != nil {
		return err
	}

	err = s.call(func() (*models.Order, error) {
		return s.store.RemoveItem(ctx, s.orderID, itemID)
	})
	if err != nil {
		return s.fail(ctx, "remove_item", err, MsgItemNotFound)
	}

	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventItemRemoved, userID, map[string]interface{}{
		"item_id":    itemID,
		"product_id": item.Product.ID,
		"quantity":   item.Quantity,
	}))
	s.ApplyAutoDiscounts(ctx)
	return nil
}

func (s *Session) openItem(itemID string) (models.OrderItem, error) {
	order, err := s.requireEditable()
	if err != nil {
		return models.OrderItem{}, err
	}
	item, ok := order.FindItem(itemID)
	if !ok {
		return models.OrderItem{}, newError(KindNotFound, MsgItemNotFound, map[string]interface{}{"itemId": itemID})
	}
	if item.Status != models.ItemCreated || item.IsRefund {
		return models.OrderItem{}, newError(KindConflict, MsgItemNotEditable, map[string]interface{}{
			"itemId": itemID,
			"status": item.Status,
		})
	}
	return item, nil
}
