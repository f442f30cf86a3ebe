package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qtybreak/internal/tiers"
)

func TestPlanSeed(t *testing.T) {
	plan := planSeed(map[string]string{
		"v2":  `{"fixed":"10.00","breaks":[{"min":"20","price":"8"},{"min":5,"price":"9.50"}]}`,
		"v1":  `{"fixed":"3","breaks":[]}`,
		"bad": `{"fixed":`,
		"inv": `{"breaks":[]}`,
	})

	require.Equal(t, []string{"v1", "v2"}, plan.IDs())
	require.Len(t, plan.Rejected, 2)
	require.Equal(t, "bad", plan.Rejected[0].VariantID)
	require.Equal(t, tiers.StatusMalformed, plan.Rejected[0].Status)
	require.Equal(t, tiers.StatusInvalid, plan.Rejected[1].Status)

	res := tiers.ParseString(plan.Accepted["v2"])
	require.True(t, res.OK())
	require.Equal(t, 5, res.Table.Tiers[0].Min)
	require.Equal(t, 20, res.Table.Tiers[1].Min)
}
