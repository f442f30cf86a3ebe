package discount

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Input is the run input the commerce platform sends for one cart.
type Input struct {
	Cart Cart `json:"cart"`
}

// Cart holds the lines under evaluation.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

// CartLine is one line as priced by the platform.
type CartLine struct {
	ID          string      `json:"id"`
	Quantity    int         `json:"quantity"`
	Cost        LineCost    `json:"cost"`
	Merchandise Merchandise `json:"merchandise"`
}

// LineCost carries the platform-computed prices for a line.
type LineCost struct {
	AmountPerQuantity Money `json:"amountPerQuantity"`
	TotalAmount       Money `json:"totalAmount"`
}

// Money is an amount as the platform serializes it.
type Money struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currencyCode,omitempty"`
}

// Merchandise identifies the purchased variant and may embed its tier metafield.
type Merchandise struct {
	ProductID     string     `json:"productId"`
	VariantID     string     `json:"variantId"`
	TierMetafield *Metafield `json:"tierMetafield,omitempty"`
}

// Metafield is a metadata value attached to a variant. Value is either JSON text or
// an embedded JSON object.
type Metafield struct {
	Value json.RawMessage `json:"value"`
}

// ApplicationStrategy tells the platform how to combine the returned discounts.
type ApplicationStrategy string

// StrategyAll applies every returned discount; each targets a different line.
const StrategyAll ApplicationStrategy = "ALL"

// Output is the discount instruction returned to the platform.
type Output struct {
	DiscountApplicationStrategy ApplicationStrategy `json:"discountApplicationStrategy"`
	Discounts                   []Discount          `json:"discounts"`
}

// Discount targets one or more cart lines with a single value.
type Discount struct {
	Targets []Target `json:"targets"`
	Value   Value    `json:"value"`
	Message string   `json:"message,omitempty"`
}

// Target selects a cart line.
type Target struct {
	CartLine CartLineTarget `json:"cartLine"`
}

// CartLineTarget references a line by ID.
type CartLineTarget struct {
	ID string `json:"id"`
}

// Value holds exactly one of FixedAmount or Percentage.
type Value struct {
	FixedAmount *FixedAmount `json:"fixedAmount,omitempty"`
	Percentage  *Percentage  `json:"percentage,omitempty"`
}

// FixedAmount is a monetary discount for the whole line.
type FixedAmount struct {
	Amount            decimal.Decimal `json:"amount"`
	AppliesToEachItem bool            `json:"appliesToEachItem"`
}

// Percentage is a relative discount on the line.
type Percentage struct {
	Value decimal.Decimal `json:"value"`
}

// ValueMode selects how decisions are expressed to the platform.
type ValueMode string

const (
	ValueFixed      ValueMode = "fixed"
	ValuePercentage ValueMode = "percentage"
)

// Empty is the output that applies nothing.
func Empty() Output {
	return Output{DiscountApplicationStrategy: StrategyAll, Discounts: []Discount{}}
}
