package tiers

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const sampleRecord = `{"fixed":"31.95","breaks":[{"min":50,"price":"24.20"},{"min":10,"price":"27.50"},{"min":150,"price":"21.75"}]}`

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func TestParseSortsBreaksAscending(t *testing.T) {
	res := ParseString(sampleRecord)
	require.True(t, res.OK())
	require.Equal(t, 0, res.Dropped)
	require.True(t, res.Table.Base.Equal(dec(t, "31.95")))
	require.Len(t, res.Table.Tiers, 3)
	require.Equal(t, []int{10, 50, 150}, []int{res.Table.Tiers[0].Min, res.Table.Tiers[1].Min, res.Table.Tiers[2].Min})
	require.True(t, res.Table.Tiers[0].Price.Equal(dec(t, "27.50")))
	require.True(t, res.Table.HasTiers())
}

func TestParseMissingRecord(t *testing.T) {
	for _, raw := range []string{"", "   ", "null"} {
		res := ParseString(raw)
		require.Equal(t, StatusMissing, res.Status, "raw %q", raw)
		require.False(t, res.OK())
		require.False(t, res.Table.HasTiers())
	}
}

func TestParseMalformedRecord(t *testing.T) {
	for _, raw := range []string{"{", "not json", `[1,2]`, `{"fixed":"1","breaks":"x"}`} {
		res := ParseString(raw)
		require.Equal(t, StatusMalformed, res.Status, "raw %q", raw)
	}
}

func TestParseInvalidRecord(t *testing.T) {
	cases := map[string]string{
		"missing fixed":    `{"breaks":[]}`,
		"missing breaks":   `{"fixed":"10"}`,
		"null breaks":      `{"fixed":"10","breaks":null}`,
		"empty fixed":      `{"fixed":"","breaks":[]}`,
		"non numeric base": `{"fixed":"ten","breaks":[]}`,
		"negative base":    `{"fixed":"-1","breaks":[]}`,
		"boolean base":     `{"fixed":true,"breaks":[]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res := ParseString(raw)
			require.Equal(t, StatusInvalid, res.Status)
			require.False(t, res.OK())
		})
	}
}

func TestParseAcceptsNumericScalars(t *testing.T) {
	res := ParseString(`{"fixed":49.5,"breaks":[{"min":"10","price":37.95},{"min":50,"price":"33.95"}]}`)
	require.True(t, res.OK())
	require.True(t, res.Table.Base.Equal(dec(t, "49.50")))
	require.Len(t, res.Table.Tiers, 2)
	require.Equal(t, 10, res.Table.Tiers[0].Min)
	require.True(t, res.Table.Tiers[0].Price.Equal(dec(t, "37.95")))
}

func TestParseDropsUnusableBreaks(t *testing.T) {
	raw := `{"fixed":"20","breaks":[
		{"min":0,"price":"19"},
		{"min":-5,"price":"19"},
		{"min":2.5,"price":"19"},
		{"min":"many","price":"19"},
		{"price":"19"},
		{"min":5},
		{"min":6,"price":"cheap"},
		{"min":7,"price":"-1"},
		{"min":8,"price":null},
		{"min":10,"price":"15"}
	]}`
	res := ParseString(raw)
	require.True(t, res.OK())
	require.Equal(t, 9, res.Dropped)
	require.Len(t, res.Table.Tiers, 1)
	require.Equal(t, 10, res.Table.Tiers[0].Min)
}

func TestParseDropsNonObjectBreaks(t *testing.T) {
	res := ParseString(`{"fixed":"31.95","breaks":[5,"x",true,null,[],{"min":10,"price":"27.50"}]}`)
	require.True(t, res.OK())
	require.Equal(t, 5, res.Dropped)
	require.Len(t, res.Table.Tiers, 1)
	require.Equal(t, 10, res.Table.Tiers[0].Min)
	require.True(t, res.Table.Tiers[0].Price.Equal(dec(t, "27.50")))

	res = ParseString(`{"fixed":"31.95","breaks":{"min":10,"price":"27.50"}}`)
	require.Equal(t, StatusMalformed, res.Status)
}

func TestParseEmptyBreaks(t *testing.T) {
	res := ParseString(`{"fixed":"12.00","breaks":[]}`)
	require.True(t, res.OK())
	require.False(t, res.Table.HasTiers())
}

func TestParseKeepsDuplicateMinsInInputOrder(t *testing.T) {
	res := ParseString(`{"fixed":"10","breaks":[{"min":5,"price":"9"},{"min":20,"price":"7"},{"min":5,"price":"8"}]}`)
	require.True(t, res.OK())
	require.Len(t, res.Table.Tiers, 3)
	require.True(t, res.Table.Tiers[0].Price.Equal(dec(t, "9")))
	require.True(t, res.Table.Tiers[1].Price.Equal(dec(t, "8")))
	require.Equal(t, []int{5}, res.Table.Duplicates())
}

func TestRoundTrip(t *testing.T) {
	table := New(dec(t, "31.95"),
		Tier{Min: 150, Price: dec(t, "21.75")},
		Tier{Min: 10, Price: dec(t, "27.50")},
		Tier{Min: 50, Price: dec(t, "24.20")},
	)
	data, err := Marshal(table)
	require.NoError(t, err)

	res := Parse(data)
	require.True(t, res.OK())
	require.True(t, table.Equal(res.Table))
	require.Equal(t, table.Fingerprint(), res.Table.Fingerprint())
}

func TestDecodeVariants(t *testing.T) {
	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(sampleRecord), &obj))

	fromObject := Decode(obj)
	require.True(t, fromObject.OK())

	wrapped, err := json.Marshal(sampleRecord)
	require.NoError(t, err)
	fromWrapped := Decode(json.RawMessage(wrapped))
	require.True(t, fromWrapped.OK())
	require.True(t, fromObject.Table.Equal(fromWrapped.Table))

	require.Equal(t, StatusMissing, Decode(nil).Status)
	require.Equal(t, StatusMissing, Decode(json.RawMessage("null")).Status)
	require.True(t, Decode([]byte(sampleRecord)).OK())
}

func TestResolve(t *testing.T) {
	table, ok := Resolve(sampleRecord)
	require.True(t, ok)
	require.Len(t, table.Tiers, 3)

	_, ok = Resolve("{")
	require.False(t, ok)
}

func TestNewDropsInvalidTiers(t *testing.T) {
	table := New(dec(t, "5"), Tier{Min: 0, Price: dec(t, "1")}, Tier{Min: 3, Price: dec(t, "-1")}, Tier{Min: 2, Price: dec(t, "4")})
	require.Len(t, table.Tiers, 1)
	require.Equal(t, 2, table.Tiers[0].Min)
}
