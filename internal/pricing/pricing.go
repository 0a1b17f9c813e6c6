// Package pricing derives order monetary totals from an order snapshot.
//
// Every function here is pure: totals are recomputed from the snapshot on
// each call and never cached, since discount, surcharge and refund state can
// change on the server at any time.
package pricing

import (
	"github.com/shopspring/decimal"

	"restaurant-pos/internal/models"
)

var hundred = decimal.NewFromInt(100)

// ResolveUnitPrice returns the product price for the given restaurant with
// the customer's personal discount applied. Additives are priced separately
// and are never discounted.
func ResolveUnitPrice(product models.Product, restaurantID string, customer *models.Customer) decimal.Decimal {
	price := product.Price
	if restaurantID != "" {
		for _, rp := range product.RestaurantPrices {
			if rp.RestaurantID == restaurantID && rp.Active() {
				price = rp.Price
				break
			}
		}
	}

	if customer != nil && customer.DiscountApplied && customer.PersonalDiscount.IsPositive() {
		factor := decimal.NewFromInt(1).Sub(customer.PersonalDiscount.Div(hundred))
		price = price.Mul(factor)
	}

	return price
}

// AdditivesTotal sums the additive prices of a single unit.
func AdditivesTotal(additives []models.Additive) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range additives {
		sum = sum.Add(a.Price)
	}
	return sum
}

// ItemPrice returns the line total. Refunded lines contribute nothing.
func ItemPrice(item models.OrderItem, restaurantID string, customer *models.Customer) decimal.Decimal {
	if item.IsRefund || item.Quantity <= 0 {
		return decimal.Zero
	}
	unit := ResolveUnitPrice(item.Product, restaurantID, customer).Add(AdditivesTotal(item.Additives))
	return unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// ItemsTotal sums all line totals of the order.
func ItemsTotal(order *models.Order) decimal.Decimal {
	restaurantID, _ := order.RestaurantID()
	customer, _ := order.DiscountedCustomer()

	total := decimal.Zero
	for _, item := range order.Items {
		total = total.Add(ItemPrice(item, restaurantID, customer))
	}
	return total
}

// SurchargesTotal computes every surcharge against itemsTotal. Percentage
// surcharges never compound on each other.
func SurchargesTotal(itemsTotal decimal.Decimal, surcharges []models.Surcharge) decimal.Decimal {
	total := decimal.Zero
	for _, s := range surcharges {
		switch s.Type {
		case models.SurchargeFixed:
			total = total.Add(s.Amount)
		default:
			total = total.Add(itemsTotal.Mul(s.Amount).Div(hundred))
		}
	}
	return total
}

// OrderTotal returns the payable amount of the order, never negative.
func OrderTotal(order *models.Order) decimal.Decimal {
	return Calculate(order).Total
}

// Breakdown is the full pricing derivation of one snapshot
type Breakdown struct {
	Items       []ItemLine      `json:"items"`
	ItemsTotal  decimal.Decimal `json:"itemsTotal"`
	Surcharges  decimal.Decimal `json:"surcharges"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	BonusPoints decimal.Decimal `json:"bonusPoints"`
	Total       decimal.Decimal `json:"total"`
}

// ItemLine is the priced view of one order line
type ItemLine struct {
	ItemID    string          `json:"itemId"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
}

// Calculate derives the complete breakdown. Discount and bonus points are
// each floored at zero against the running total.
func Calculate(order *models.Order) Breakdown {
	if order == nil {
		return Breakdown{}
	}

	restaurantID, _ := order.RestaurantID()
	customer, _ := order.DiscountedCustomer()

	b := Breakdown{Items: make([]ItemLine, 0, len(order.Items))}
	itemsTotal := decimal.Zero
	for _, item := range order.Items {
		line := ItemLine{
			ItemID:    item.ID,
			UnitPrice: ResolveUnitPrice(item.Product, restaurantID, customer).Add(AdditivesTotal(item.Additives)),
			Total:     ItemPrice(item, restaurantID, customer),
		}
		b.Items = append(b.Items, line)
		itemsTotal = itemsTotal.Add(line.Total)
	}

	b.ItemsTotal = itemsTotal
	b.Surcharges = SurchargesTotal(itemsTotal, order.Surcharges)
	b.Subtotal = itemsTotal.Add(b.Surcharges)

	running := b.Subtotal
	b.Discount = capAt(order.DiscountAmount, running)
	running = running.Sub(b.Discount)
	b.BonusPoints = capAt(order.BonusPointsUsed, running)
	running = running.Sub(b.BonusPoints)

	b.Total = decimal.Max(running, decimal.Zero)
	return b
}

// capAt clamps a deduction into [0, limit].
func capAt(amount, limit decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() || !limit.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(amount, limit)
}
