package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals holds the monetary roll-up of an order, each rounded to two decimals.
type Totals struct {
	Subtotal float64
	Tax      float64
	Shipping float64
	Total    float64
}

// LineTotal returns price*quantity rounded to two decimals.
func LineTotal(price float64, quantity int) float64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity))).Round(2).InexactFloat64()
}

// ComputeTotals prices items at the given tax rate (0.08 for 8%) and flat shipping.
// Line subtotals on items are filled in as a side effect.
func ComputeTotals(items []OrderItem, taxRate, shipping float64) Totals {
	subtotal := decimal.Zero
	for i := range items {
		line := decimal.NewFromFloat(items[i].Price).Mul(decimal.NewFromInt(int64(items[i].Quantity))).Round(2)
		items[i].Subtotal = line.InexactFloat64()
		subtotal = subtotal.Add(line)
	}
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(decimal.NewFromFloat(taxRate)).Round(2)
	ship := decimal.NewFromFloat(shipping).Round(2)
	total := subtotal.Add(tax).Add(ship).Round(2)

	return Totals{
		Subtotal: subtotal.InexactFloat64(),
		Tax:      tax.InexactFloat64(),
		Shipping: ship.InexactFloat64(),
		Total:    total.InexactFloat64(),
	}
}

// ApplyTotals copies totals onto the order.
func (o *Order) ApplyTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.Tax = t.Tax
	o.Shipping = t.Shipping
	o.Total = t.Total
}

// ReconcileTotals reports an error when total != subtotal + tax + shipping at two decimals.
func ReconcileTotals(order Order) error {
	expected := decimal.NewFromFloat(order.Subtotal).
		Add(decimal.NewFromFloat(order.Tax)).
		Add(decimal.NewFromFloat(order.Shipping)).
		Round(2)
	actual := decimal.NewFromFloat(order.Total).Round(2)
	if !expected.Equal(actual) {
		return fmt.Errorf("order totals mismatch: total %s, expected %s", actual.StringFixed(2), expected.StringFixed(2))
	}
	return nil
}

// MinorUnits converts a rupee amount to paise.
func MinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
