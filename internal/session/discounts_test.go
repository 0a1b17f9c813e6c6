package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/pricing"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func orderWorth500() *models.Order {
	order := baseOrder()
	order.Items = []models.OrderItem{soupLine("i-1", 5, models.ItemCreated)}
	return order
}

func TestFirstEligible(t *testing.T) {
	tests := []struct {
		name    string
		catalog []models.Discount
		total   int64
		wantID  string
	}{
		{
			name:    "empty catalog",
			catalog: nil,
			total:   500,
		},
		{
			name: "expired is skipped",
			catalog: []models.Discount{
				{ID: "old", EndDate: timePtr(testNow.Add(-time.Hour))},
				{ID: "ok"},
			},
			total:  500,
			wantID: "ok",
		},
		{
			name: "end date exactly now is expired",
			catalog: []models.Discount{
				{ID: "edge", EndDate: timePtr(testNow)},
			},
			total: 500,
		},
		{
			name: "minimum not met is skipped",
			catalog: []models.Discount{
				{ID: "big", MinOrderAmount: decPtr(1000)},
				{ID: "future", EndDate: timePtr(testNow.Add(24 * time.Hour))},
			},
			total:  500,
			wantID: "future",
		},
		{
			name: "minimum met exactly",
			catalog: []models.Discount{
				{ID: "exact", MinOrderAmount: decPtr(500)},
			},
			total:  500,
			wantID: "exact",
		},
		{
			name: "first eligible wins over a larger one",
			catalog: []models.Discount{
				{ID: "small", Type: models.DiscountFixed, Value: dec(10)},
				{ID: "large", Type: models.DiscountFixed, Value: dec(200)},
			},
			total:  500,
			wantID: "small",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FirstEligible(tt.catalog, dec(tt.total), testNow)
			if tt.wantID == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestSession_AutoDiscountAppliesFirstEligible(t *testing.T) {
	h := newHarness(t, orderWorth500())
	h.store.discounts = []models.Discount{
		{ID: "old", Type: models.DiscountFixed, Value: dec(50), EndDate: timePtr(testNow.Add(-time.Hour))},
		{ID: "big", Type: models.DiscountFixed, Value: dec(100), MinOrderAmount: decPtr(1000)},
		{ID: "a", Type: models.DiscountFixed, Value: dec(30), EndDate: timePtr(testNow.Add(time.Hour))},
		{ID: "b", Type: models.DiscountFixed, Value: dec(40)},
	}

	h.s.ApplyAutoDiscounts(context.Background())

	assert.Equal(t, 1, h.store.Count("ApplyDiscountToOrder:a"))
	assert.Zero(t, h.store.Count("ApplyDiscountToOrder:b"))
	snap := h.s.Snapshot()
	assert.True(t, dec(30).Equal(snap.DiscountAmount))
	assert.True(t, dec(470).Equal(pricing.OrderTotal(snap)))
	assert.Equal(t, "GetOrder", h.store.Calls()[len(h.store.Calls())-1])
}

func TestSession_AutoDiscountRecheckedWhenTotalGrows(t *testing.T) {
	h := newHarness(t, orderWorth500())
	h.store.discounts = []models.Discount{
		{ID: "big", Type: models.DiscountFixed, Value: dec(100), MinOrderAmount: decPtr(1000)},
		{ID: "small", Type: models.DiscountFixed, Value: dec(10)},
	}
	ctx := context.Background()

	h.s.ApplyAutoDiscounts(ctx)
	require.Equal(t, 1, h.store.Count("ApplyDiscountToOrder:small"))
	require.True(t, h.s.Snapshot().AttentionFlags.HasDiscount)

	require.NoError(t, h.s.SetPendingQuantity(ctx, PendingRequest{ProductID: "soup", Quantity: 6}))
	h.clock.Advance(testDebounce)

	assert.Equal(t, 2, h.store.Count("GetDiscountsByRestaurant"))
	assert.Equal(t, 1, h.store.Count("ApplyDiscountToOrder:big"))
	snap := h.s.Snapshot()
	item, _ := snap.FindItem("i-1")
	assert.Equal(t, 11, item.Quantity)
	assert.True(t, dec(100).Equal(snap.DiscountAmount))
	assert.True(t, dec(1000).Equal(pricing.OrderTotal(snap)))
}

func TestSession_AutoDiscountSkippedAfterStaffCancel(t *testing.T) {
	order := orderWorth500()
	order.AttentionFlags.DiscountCanceled = true
	h := newHarness(t, order)
	h.store.discounts = []models.Discount{{ID: "a", Type: models.DiscountFixed, Value: dec(30)}}

	require.NoError(t, h.s.ChangeItemQuantity(context.Background(), "u-1", "i-1", 6))

	assert.Zero(t, h.store.Count("GetDiscountsByRestaurant"))
	assert.Zero(t, h.store.Count("ApplyDiscountToOrder:a"))
	assert.True(t, h.s.Snapshot().DiscountAmount.IsZero())
}

func TestSession_OperationsRejectedWhenNotEditable(t *testing.T) {
	ops := []struct {
		name string
		run  func(ctx context.Context, s *Session) error
	}{
		{"change quantity", func(ctx context.Context, s *Session) error { return s.ChangeItemQuantity(ctx, "u-1", "i-1", 3) }},
		{"remove item", func(ctx context.Context, s *Session) error { return s.RemoveItem(ctx, "u-1", "i-1") }},
		{"set pending", func(ctx context.Context, s *Session) error {
			return s.SetPendingQuantity(ctx, PendingRequest{ProductID: "soup", Quantity: 1})
		}},
		{"apply customer", func(ctx context.Context, s *Session) error {
			return s.ApplyCustomer(ctx, "u-1", strings.Repeat("7", ShortCodeLength))
		}},
		{"remove customer", func(ctx context.Context, s *Session) error { return s.RemoveCustomer(ctx, "u-1") }},
		{"apply promo", func(ctx context.Context, s *Session) error { return s.ApplyPromoCode(ctx, "u-1", "SAVE10") }},
		{"remove discount", func(ctx context.Context, s *Session) error { return s.RemoveDiscount(ctx, "u-1") }},
		{"apply points", func(ctx context.Context, s *Session) error { return s.ApplyPoints(ctx, "u-1", dec(10)) }},
		{"remove points", func(ctx context.Context, s *Session) error { return s.RemovePoints(ctx, "u-1") }},
	}
	statuses := []models.OrderStatus{models.StatusDelivering, models.StatusCompleted, models.StatusCancelled}

	for _, status := range statuses {
		for _, op := range ops {
			t.Run(string(status)+"/"+op.name, func(t *testing.T) {
				order := baseOrder()
				order.Status = status
				order.Items = []models.OrderItem{soupLine("i-1", 2, models.ItemCreated)}
				order.Customer = &models.Customer{ID: "c-1", BonusPoints: dec(500)}
				h := newHarness(t, order)
				before := len(h.store.Calls())

				err := op.run(context.Background(), h.s)

				requireKind(t, err, KindConflict, MsgOrderNotEditable)
				assert.Len(t, h.store.Calls(), before)
				assert.Equal(t, status, h.s.Snapshot().Status)
			})
		}
	}
}

func TestSession_AutoDiscountFailureIsSwallowed(t *testing.T) {
	order := orderWorth500()
	h := newHarness(t, order)
	h.store.Fail("GetDiscountsByRestaurant", errors.New("catalog down"))

	require.NoError(t, h.s.ChangeItemQuantity(context.Background(), "u-1", "i-1", 6))

	item, _ := h.s.Snapshot().FindItem("i-1")
	assert.Equal(t, 6, item.Quantity)
}

func TestSession_ApplyCustomer(t *testing.T) {
	order := baseOrder()
	item := soupLine("i-1", 2, models.ItemCreated)
	item.Additives = []models.Additive{{ID: "bread", Price: dec(20)}}
	order.Items = []models.OrderItem{item}
	h := newHarness(t, order)
	h.store.customers["AB12"] = models.Customer{ID: "c-1", ShortCode: "AB12", PersonalDiscount: dec(10), BonusPoints: dec(100)}
	ctx := context.Background()
	before := len(h.store.Calls())

	requireKind(t, h.s.ApplyCustomer(ctx, "u-1", "AB1"), KindValidation, MsgInvalidShortCode)
	requireKind(t, h.s.ApplyCustomer(ctx, "u-1", "AB123"), KindValidation, MsgInvalidShortCode)
	assert.Len(t, h.store.Calls(), before)

	requireKind(t, h.s.ApplyCustomer(ctx, "u-1", "ZZZZ"), KindNotFound, MsgCustomerNotFound)
	assert.Nil(t, h.s.Snapshot().Customer)

	require.NoError(t, h.s.ApplyCustomer(ctx, "u-1", " AB12 "))
	snap := h.s.Snapshot()
	require.NotNil(t, snap.Customer)
	assert.True(t, snap.Customer.DiscountApplied)
	// (90 + 20) * 2, additives are not discounted
	assert.True(t, dec(220).Equal(pricing.OrderTotal(snap)))
	assert.Equal(t, 1, h.store.Count("ApplyCustomerDiscount"))
	assert.Contains(t, h.events.Actions(), models.EventCustomerApplied)
	require.Len(t, h.store.logs, 1)
	assert.Equal(t, models.LogCustomerAttached, h.store.logs[0].Action)

	require.NoError(t, h.s.RemoveCustomer(ctx, "u-1"))
	assert.Nil(t, h.s.Snapshot().Customer)
	requireKind(t, h.s.RemoveCustomer(ctx, "u-1"), KindValidation, MsgNoCustomer)
}

func TestSession_ApplyPromoBelowMinimum(t *testing.T) {
	h := newHarness(t, orderWorth500())
	h.store.promos["BIG"] = models.Discount{ID: "promo-big", Type: models.DiscountFixed, Value: dec(100), MinOrderAmount: decPtr(1000)}

	err := h.s.ApplyPromoCode(context.Background(), "u-1", "BIG")
	requireKind(t, err, KindValidation, MsgPromoMinAmount)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "1000", se.Params["minOrderAmount"])
	assert.Zero(t, h.store.Count("ApplyDiscountToOrder:promo-big"))
	assert.Empty(t, h.store.logs)
}

func TestSession_ApplyPromo(t *testing.T) {
	h := newHarness(t, orderWorth500())
	h.store.promos["SPRING"] = models.Discount{ID: "promo-10", Type: models.DiscountPercentage, Value: dec(10)}
	h.store.promos["GONE"] = models.Discount{ID: "promo-gone", EndDate: timePtr(testNow.Add(-time.Minute))}
	ctx := context.Background()

	requireKind(t, h.s.ApplyPromoCode(ctx, "u-1", "  "), KindValidation, MsgPromoCodeRequired)
	requireKind(t, h.s.ApplyPromoCode(ctx, "u-1", "NOPE"), KindNotFound, MsgPromoNotFound)
	requireKind(t, h.s.ApplyPromoCode(ctx, "u-1", "GONE"), KindValidation, MsgPromoExpired)

	require.NoError(t, h.s.ApplyPromoCode(ctx, "u-1", "SPRING"))
	snap := h.s.Snapshot()
	assert.True(t, dec(50).Equal(snap.DiscountAmount))
	assert.True(t, snap.AttentionFlags.HasDiscount)
	require.Len(t, h.store.logs, 1)
	assert.Equal(t, models.LogPromoApplied, h.store.logs[0].Action)
	assert.Equal(t, "u-1", h.store.logs[0].UserID)

	require.NoError(t, h.s.RemoveDiscount(ctx, "u-1"))
	assert.True(t, h.s.Snapshot().DiscountAmount.IsZero())
	assert.Contains(t, h.events.Actions(), models.EventDiscountRemoved)
}

func TestClampPoints(t *testing.T) {
	tests := []struct {
		name      string
		bonus     int64
		used      int64
		requested int64
		want      int64
	}{
		{name: "limited by total", bonus: 1000, requested: 500, want: 300},
		{name: "limited by balance", bonus: 50, requested: 500, want: 50},
		{name: "request fits", bonus: 1000, requested: 120, want: 120},
		{name: "points already used do not shrink the limit", bonus: 1000, used: 100, requested: 400, want: 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := baseOrder()
			order.Items = []models.OrderItem{soupLine("i-1", 3, models.ItemCreated)}
			order.Customer = &models.Customer{ID: "c-1", BonusPoints: dec(tt.bonus)}
			order.BonusPointsUsed = dec(tt.used)

			assert.True(t, dec(tt.want).Equal(ClampPoints(order, dec(tt.requested))))
		})
	}
}

func TestSession_ApplyAndRemovePoints(t *testing.T) {
	order := baseOrder()
	order.Items = []models.OrderItem{soupLine("i-1", 3, models.ItemCreated)}
	h := newHarness(t, order)
	ctx := context.Background()

	requireKind(t, h.s.ApplyPoints(ctx, "u-1", dec(10)), KindValidation, MsgNoCustomer)

	h.store.Update(func(o *models.Order) {
		o.Customer = &models.Customer{ID: "c-1", BonusPoints: dec(1000)}
	})
	require.NoError(t, h.s.Refresh(ctx))

	requireKind(t, h.s.ApplyPoints(ctx, "u-1", dec(0)), KindValidation, MsgInvalidPoints)

	require.NoError(t, h.s.ApplyPoints(ctx, "u-1", dec(500)))
	assert.Equal(t, 1, h.store.Count("ApplyCustomerPoints:300"))
	assert.True(t, h.s.View().Pricing.Total.IsZero())
	assert.GreaterOrEqual(t, h.store.Count("GetDiscountsByRestaurant"), 1)

	require.NoError(t, h.s.RemovePoints(ctx, "u-1"))
	assert.True(t, h.s.Snapshot().BonusPointsUsed.IsZero())
	assert.Contains(t, h.events.Actions(), models.EventPointsRemoved)
}
