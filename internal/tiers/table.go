package tiers

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// Tier is a quantity break: Price applies per unit once the quantity reaches Min.
type Tier struct {
	Min   int
	Price decimal.Decimal
}

// Table is the normalized tier table for one product variant.
// Tiers is sorted ascending by Min. Tables are built per request and never mutated.
type Table struct {
	Base  decimal.Decimal
	Tiers []Tier
}

// New builds a normalized table. Tiers with a non-positive Min or a negative price are
// dropped and the rest are stably sorted by Min, so equal mins keep their input order.
func New(base decimal.Decimal, tiers ...Tier) Table {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.Min <= 0 || t.Price.IsNegative() {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min < out[j].Min })
	return Table{Base: base, Tiers: out}
}

// HasTiers reports whether at least one usable tier survived normalization.
func (t Table) HasTiers() bool {
	return len(t.Tiers) > 0
}

// Duplicates lists every Min value that occurs more than once, ascending.
func (t Table) Duplicates() []int {
	var dups []int
	for i := 1; i < len(t.Tiers); i++ {
		if t.Tiers[i].Min != t.Tiers[i-1].Min {
			continue
		}
		if len(dups) > 0 && dups[len(dups)-1] == t.Tiers[i].Min {
			continue
		}
		dups = append(dups, t.Tiers[i].Min)
	}
	return dups
}

// Equal compares two tables by numeric value, ignoring decimal scale ("27.5" == "27.50").
func (t Table) Equal(other Table) bool {
	if !t.Base.Equal(other.Base) || len(t.Tiers) != len(other.Tiers) {
		return false
	}
	for i := range t.Tiers {
		if t.Tiers[i].Min != other.Tiers[i].Min || !t.Tiers[i].Price.Equal(other.Tiers[i].Price) {
			return false
		}
	}
	return true
}

// Fingerprint returns a stable textual identity for the table. Two tables with the
// same fingerprint price every quantity identically.
func (t Table) Fingerprint() string {
	buf := make([]byte, 0, 16+len(t.Tiers)*16)
	buf = append(buf, t.Base.String()...)
	for _, tier := range t.Tiers {
		buf = append(buf, '|')
		buf = strconv.AppendInt(buf, int64(tier.Min), 10)
		buf = append(buf, '@')
		buf = append(buf, tier.Price.String()...)
	}
	return string(buf)
}
