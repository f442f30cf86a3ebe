package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/qtybreak/internal/tiers"
)

// Band is the slice of a graduated total billed at one price.
type Band struct {
	Min       int  // tier threshold, 0 for the base price
	FromUnit  int  // first unit in the band, 1-based
	ToUnit    int  // last unit in the band, inclusive
	Base      bool // billed at the base price
	Units     int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Graduated is an incremental total with its per-band breakdown.
type Graduated struct {
	Total decimal.Decimal
	Bands []Band
}

// GraduatedTotal prices qty incrementally. Walking tiers in ascending order, each tier
// consumes at most the gap to the next tier's Min, and the last tier consumes whatever
// remains. Units left after the tiers are billed at the base price, which only happens
// for tables without tiers. It is used for reporting and never feeds the discount.
func GraduatedTotal(t tiers.Table, qty int) Graduated {
	out := Graduated{Total: decimal.Zero}
	if qty <= 0 {
		return out
	}
	remaining := qty
	next := 1
	for i, tier := range t.Tiers {
		if remaining <= 0 {
			break
		}
		consumed := remaining
		if i+1 < len(t.Tiers) {
			if gap := t.Tiers[i+1].Min - tier.Min; gap < consumed {
				consumed = gap
			}
		}
		if consumed <= 0 {
			continue
		}
		out.add(Band{Min: tier.Min, FromUnit: next, ToUnit: next + consumed - 1, Units: consumed, UnitPrice: tier.Price})
		next += consumed
		remaining -= consumed
	}
	if remaining > 0 {
		out.add(Band{FromUnit: next, ToUnit: next + remaining - 1, Base: true, Units: remaining, UnitPrice: t.Base})
	}
	return out
}

func (g *Graduated) add(b Band) {
	b.Subtotal = b.UnitPrice.Mul(decimal.NewFromInt(int64(b.Units)))
	g.Total = g.Total.Add(b.Subtotal)
	g.Bands = append(g.Bands, b)
}

// Comparison reports flat-tier and graduated totals for the same quantity.
type Comparison struct {
	Quantity      int
	FlatUnitPrice decimal.Decimal
	FlatTotal     decimal.Decimal
	Graduated     Graduated
	// Difference is FlatTotal minus the graduated total.
	Difference decimal.Decimal
}

// Compare prices qty both ways so callers can log how the two schemes diverge.
func Compare(t tiers.Table, qty int) Comparison {
	if qty < 0 {
		qty = 0
	}
	unit := UnitPrice(t, qty)
	flat := unit.Mul(decimal.NewFromInt(int64(qty)))
	grad := GraduatedTotal(t, qty)
	return Comparison{
		Quantity:      qty,
		FlatUnitPrice: unit,
		FlatTotal:     flat,
		Graduated:     grad,
		Difference:    flat.Sub(grad.Total),
	}
}
