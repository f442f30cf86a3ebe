package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qtybreak/internal/resilience"
)

func TestGuardedOpensAfterFailures(t *testing.T) {
	backing := &countingSource{err: errors.New("connection refused")}
	guarded := Guarded{Next: backing, Breaker: resilience.NewBreaker(2, 0.5, time.Hour)}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := guarded.TierRecord(ctx, "v1")
		require.EqualError(t, err, "connection refused")
	}
	_, _, err := guarded.TierRecord(ctx, "v1")
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, 2, backing.calls)
}

func TestGuardedPassesThrough(t *testing.T) {
	backing := &countingSource{records: map[string]string{"v1": widgetRecord}}
	for _, g := range []Guarded{
		{Next: backing, Breaker: resilience.NewBreaker(1, 0.5, time.Hour)},
		{Next: backing},
	} {
		rec, ok, err := g.TierRecord(context.Background(), "v1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, widgetRecord, rec)
	}
	_, ok, err := Guarded{}.TierRecord(context.Background(), "v1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChainFallsBackWhenBreakerOpen(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Hour)
	breaker.Report(context.Background(), false)
	chain := Chain{
		Guarded{Next: &countingSource{}, Breaker: breaker},
		NewFixtures(map[string]string{"v1": widgetRecord}),
	}
	rec, ok, err := chain.TierRecord(context.Background(), "v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, widgetRecord, rec)
}
