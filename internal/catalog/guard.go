package catalog

import (
	"context"

	"github.com/noah-isme/qtybreak/internal/resilience"
)

// Guarded fails fast with resilience.ErrOpenCircuit while its breaker is open, so
// a struggling database does not slow every cart evaluation.
type Guarded struct {
	Next    Source
	Breaker *resilience.Breaker
}

// TierRecord implements Source.
func (g Guarded) TierRecord(ctx context.Context, variantID string) (string, bool, error) {
	if g.Next == nil {
		return "", false, nil
	}
	if g.Breaker == nil {
		return g.Next.TierRecord(ctx, variantID)
	}
	var (
		rec   string
		found bool
	)
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, found, err = g.Next.TierRecord(ctx, variantID)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return rec, found, nil
}
