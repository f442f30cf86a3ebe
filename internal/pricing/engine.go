package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/qtybreak/internal/tiers"
)

var hundred = decimal.NewFromInt(100)

// Quote describes one cart line as priced by the commerce platform.
type Quote struct {
	Quantity          int
	ExternalUnitPrice decimal.Decimal
	ExternalLineTotal decimal.Decimal
	// TierQuantity selects the tier when lines of one product are priced together.
	// Zero means Quantity.
	TierQuantity int
}

func (q Quote) tierQuantity() int {
	if q.TierQuantity > 0 {
		return q.TierQuantity
	}
	return q.Quantity
}

// Result aggregates the computed discount components for a line.
type Result struct {
	UnitPrice          decimal.Decimal
	TargetLineTotal    decimal.Decimal
	DiscountAmount     decimal.Decimal
	DiscountPercentage decimal.Decimal
}

// Decision is the discount instruction returned to the integration layer.
type Decision struct {
	Quantity           int
	UnitPrice          decimal.Decimal
	ExternalUnitPrice  decimal.Decimal
	TargetLineTotal    decimal.Decimal
	DiscountAmount     decimal.Decimal
	DiscountPercentage decimal.Decimal
	Message            string
}

// UnitPrice returns the flat-tier price for qty: the price of the tier with the highest
// Min not above qty, applied to every unit. Among equal mins the last one wins.
// Falls back to the base price when no tier qualifies.
func UnitPrice(t tiers.Table, qty int) decimal.Decimal {
	for i := len(t.Tiers) - 1; i >= 0; i-- {
		if t.Tiers[i].Min <= qty {
			return t.Tiers[i].Price
		}
	}
	return t.Base
}

// Eligible reports whether a line should be priced at all.
func Eligible(t tiers.Table, qty int) bool {
	return t.HasTiers() && qty > 0
}

// ComputeDiscount derives the discount that moves the line toward the flat-tier total.
//
// The amount is target minus external, clamped at zero, matching the formula the
// storefront has always applied ("your price minus platform price"). It is positive
// only when the tier total exceeds what the platform charged. The second return
// value is false when no discount applies.
func ComputeDiscount(t tiers.Table, qty int, externalLineTotal decimal.Decimal) (Result, bool) {
	return ComputeDiscountAt(t, qty, qty, externalLineTotal)
}

// ComputeDiscountAt is ComputeDiscount with the tier chosen by tierQty instead of qty.
func ComputeDiscountAt(t tiers.Table, tierQty, qty int, externalLineTotal decimal.Decimal) (Result, bool) {
	if qty <= 0 || tierQty <= 0 || t.Base.IsNegative() {
		return Result{}, false
	}
	unit := UnitPrice(t, tierQty)
	target := unit.Mul(decimal.NewFromInt(int64(qty)))
	discount := target.Sub(externalLineTotal)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	pct := decimal.Zero
	if externalLineTotal.IsPositive() {
		pct = discount.Div(externalLineTotal).Mul(hundred)
	}
	res := Result{
		UnitPrice:          unit,
		TargetLineTotal:    target,
		DiscountAmount:     discount,
		DiscountPercentage: pct,
	}
	return res, discount.IsPositive()
}

// Evaluate gates, prices and describes a single cart line. It returns false when the
// line is ineligible or the discount rounds to zero cents; callers omit such lines.
func Evaluate(t tiers.Table, q Quote) (Decision, bool) {
	if !Eligible(t, q.Quantity) {
		return Decision{}, false
	}
	res, ok := ComputeDiscountAt(t, q.tierQuantity(), q.Quantity, q.ExternalLineTotal)
	if !ok {
		return Decision{}, false
	}
	// Sub-cent differences round to nothing and are not worth a discount line.
	amount := res.DiscountAmount.Round(2)
	if !amount.IsPositive() {
		return Decision{}, false
	}
	return Decision{
		Quantity:           q.Quantity,
		UnitPrice:          res.UnitPrice,
		ExternalUnitPrice:  q.ExternalUnitPrice,
		TargetLineTotal:    res.TargetLineTotal,
		DiscountAmount:     amount,
		DiscountPercentage: res.DiscountPercentage.Round(4),
		Message:            Message(q.tierQuantity(), res.UnitPrice),
	}, true
}

// Message renders the customer-facing discount label.
func Message(qty int, unit decimal.Decimal) string {
	return fmt.Sprintf("QUANTITY BREAK: %d items at $%s each", qty, unit.StringFixed(2))
}
