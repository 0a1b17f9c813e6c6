package session

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/pricing"
)

// ShortCodeLength is the length of a customer short code
const ShortCodeLength = 4

// ApplyCustomer attaches the customer behind a short code and runs the
// automatic discount pass.
func (s *Session) ApplyCustomer(ctx context.Context, userID, code string) error {
	code = strings.TrimSpace(code)
	if utf8.RuneCountInString(code) != ShortCodeLength {
		return newError(KindValidation, MsgInvalidShortCode, map[string]interface{}{"length": ShortCodeLength})
	}
	if _, err := s.requireEditable(); err != nil {
		return err
	}

	customer, err := s.store.GetCustomerByShortCode(ctx, code)
	if err != nil {
		return s.fail(ctx, "get_customer", err, MsgCustomerNotFound)
	}

	err = s.call(func() (*models.Order, error) {
		return s.store.ApplyCustomerToOrder(ctx, s.orderID, customer.ID)
	})
	if err != nil {
		return s.fail(ctx, "apply_customer", err, MsgCustomerNotFound)
	}

	s.writeLog(ctx, models.LogCustomerAttached, userID)
	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventCustomerApplied, userID, map[string]interface{}{
		"customer_id": customer.ID,
	}))
	s.log.Info("customer_applied", "Customer attached to order", logger.RequestID(ctx), map[string]interface{}{
		"order_id":    s.orderID,
		"customer_id": customer.ID,
	})

	s.ApplyAutoDiscounts(ctx)
	return nil
}

// RemoveCustomer detaches the customer together with the personal discount.
func (s *Session) RemoveCustomer(ctx context.Context, userID string) error {
	order, err := s.requireEditable()
	if err != nil {
		return err
	}
	if order.Customer == nil {
		return newError(KindValidation, MsgNoCustomer, nil)
	}

	err = s.call(func() (*models.Order, error) {
		return s.store.RemoveCustomerFromOrder(ctx, s.orderID)
	})
	if err != nil {
		return s.fail(ctx, "remove_customer", err, MsgNoCustomer)
	}

	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventCustomerRemoved, userID, map[string]interface{}{
		"customer_id": order.Customer.ID,
	}))
	return nil
}

// ApplyAutoDiscounts re-applies the personal discount and the first eligible
// catalog discount, then re-fetches the order. It never fails: every error is
// logged and the pass stops.
func (s *Session) ApplyAutoDiscounts(ctx context.Context) {
	requestID := logger.RequestID(ctx)
	result := s.autoDiscount(ctx)
	autoDiscountRuns.WithLabelValues(result).Inc()

	s.log.Debug("auto_discount_pass", "Automatic discount pass finished", requestID, map[string]interface{}{
		"order_id": s.orderID,
		"result":   result,
	})
}

func (s *Session) autoDiscount(ctx context.Context) string {
	requestID := logger.RequestID(ctx)
	logFailure := func(action string, err error) string {
		s.log.Error(action, "Automatic discount pass failed", requestID, err, map[string]interface{}{
			"order_id": s.orderID,
		})
		return "error"
	}

	order := s.current()
	if order == nil || !order.Status.IsEditable() {
		return "skipped"
	}

	if order.Customer != nil {
		if err := s.call(func() (*models.Order, error) {
			return s.store.ApplyCustomerDiscount(ctx, s.orderID)
		}); err != nil {
			return logFailure("auto_customer_discount", err)
		}
		order = s.current()
	}

	restaurantID, ok := order.RestaurantID()
	// A discount the staff cancelled stays off. Any other discount is
	// re-checked against the catalog on every pass.
	if !ok || order.AttentionFlags.DiscountCanceled {
		return s.finishAutoDiscount(ctx, "skipped")
	}

	catalog, err := s.store.GetDiscountsByRestaurant(ctx, restaurantID)
	if err != nil {
		return logFailure("auto_discount_catalog", err)
	}

	discount, found := FirstEligible(catalog, pricing.OrderTotal(order), s.now())
	if !found {
		return s.finishAutoDiscount(ctx, "none")
	}

	if err := s.call(func() (*models.Order, error) {
		return s.store.ApplyDiscountToOrder(ctx, s.orderID, discount.ID)
	}); err != nil {
		return logFailure("auto_discount_apply", err)
	}

	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventDiscountApplied, "", map[string]interface{}{
		"discount_id": discount.ID,
		"automatic":   true,
	}))
	return s.finishAutoDiscount(ctx, "applied")
}

func (s *Session) finishAutoDiscount(ctx context.Context, result string) string {
	if err := s.call(func() (*models.Order, error) {
		return s.store.GetOrder(ctx, s.orderID)
	}); err != nil {
		s.log.Warn("refresh_failed", "Failed to re-fetch order after discount pass", logger.RequestID(ctx), map[string]interface{}{
			"order_id": s.orderID,
			"error":    err.Error(),
		})
		return "error"
	}
	return result
}

// FirstEligible returns the first discount in catalog order that has not
// expired and whose minimum order amount total satisfies.
func FirstEligible(catalog []models.Discount, total decimal.Decimal, now time.Time) (models.Discount, bool) {
	for _, d := range catalog {
		if d.IsEligible(total, now) {
			return d, true
		}
	}
	return models.Discount{}, false
}

// ApplyPromoCode applies the discount behind a promo code. The minimum order
// amount is checked against the current total before anything is sent.
func (s *Session) ApplyPromoCode(ctx context.Context, userID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return newError(KindValidation, MsgPromoCodeRequired, nil)
	}
	order, err := s.requireEditable()
	if err != nil {
		return err
	}

	discount, err := s.store.GetDiscountByPromoCode(ctx, code)
	if err != nil {
		return s.fail(ctx, "get_promo", err, MsgPromoNotFound)
	}
	if discount.IsExpired(s.now()) {
		return newError(KindValidation, MsgPromoExpired, map[string]interface{}{"code": code})
	}

	total := pricing.OrderTotal(order)
	if !discount.MeetsMinimum(total) {
		return newError(KindValidation, MsgPromoMinAmount, map[string]interface{}{
			"minOrderAmount": discount.MinOrderAmount.String(),
			"total":          total.String(),
		})
	}

	err = s.call(func() (*models.Order, error) {
		return s.store.ApplyDiscountToOrder(ctx, s.orderID, discount.ID)
	})
	if err != nil {
		return s.fail(ctx, "apply_promo", err, MsgPromoNotFound)
	}

	s.writeLog(ctx, models.LogPromoApplied, userID)
	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventDiscountApplied, userID, map[string]interface{}{
		"discount_id": discount.ID,
		"promo_code":  code,
	}))
	return nil
}

// RemoveDiscount clears the discount applied to the order.
func (s *Session) RemoveDiscount(ctx context.Context, userID string) error {
	if _, err := s.requireEditable(); err != nil {
		return err
	}

	err := s.call(func() (*models.Order, error) {
		return s.store.RemoveDiscountFromOrder(ctx, s.orderID)
	})
	if err != nil {
		return s.fail(ctx, "remove_discount", err, MsgOrderNotFound)
	}

	s.writeLog(ctx, models.LogDiscountRemoved, userID)
	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventDiscountRemoved, userID, nil))
	return nil
}

// ClampPoints limits a redemption to the customer balance and to the payable
// total before any points are used.
func ClampPoints(order *models.Order, requested decimal.Decimal) decimal.Decimal {
	if order == nil || order.Customer == nil {
		return decimal.Zero
	}
	withoutPoints := *order
	withoutPoints.BonusPointsUsed = decimal.Zero

	points := decimal.Min(requested, order.Customer.BonusPoints, pricing.OrderTotal(&withoutPoints))
	if points.IsNegative() {
		return decimal.Zero
	}
	return points
}

// ApplyPoints redeems customer bonus points, clamped to what may be redeemed.
func (s *Session) ApplyPoints(ctx context.Context, userID string, requested decimal.Decimal) error {
	if !requested.IsPositive() {
		return newError(KindValidation, MsgInvalidPoints, map[string]interface{}{"points": requested.String()})
	}
	order, err := s.requireEditable()
	if err != nil {
		return err
	}
	if order.Customer == nil {
		return newError(KindValidation, MsgNoCustomer, nil)
	}

	points := ClampPoints(order, requested)
	if !points.IsPositive() {
		return newError(KindValidation, MsgPointsUnavailable, map[string]interface{}{
			"bonusPoints": order.Customer.BonusPoints.String(),
		})
	}

	err = s.call(func() (*models.Order, error) {
		return s.store.ApplyCustomerPoints(ctx, s.orderID, models.PointsRequest{Points: points})
	})
	if err != nil {
		return s.fail(ctx, "apply_points", err, MsgNoCustomer)
	}

	s.writeLog(ctx, models.LogPointsApplied, userID)
	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventPointsApplied, userID, map[string]interface{}{
		"points":    points.String(),
		"requested": requested.String(),
	}))

	s.ApplyAutoDiscounts(ctx)
	return nil
}

// RemovePoints gives redeemed points back to the customer.
func (s *Session) RemovePoints(ctx context.Context, userID string) error {
	if _, err := s.requireEditable(); err != nil {
		return err
	}

	err := s.call(func() (*models.Order, error) {
		return s.store.RemoveCustomerPoints(ctx, s.orderID)
	})
	if err != nil {
		return s.fail(ctx, "remove_points", err, MsgNoCustomer)
	}

	s.publish(ctx, models.NewOrderEvent(s.orderID, models.EventPointsRemoved, userID, nil))
	s.ApplyAutoDiscounts(ctx)
	return nil
}
