package analytics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHolding(code string, qty, cost float64) Holding {
	return Holding{
		ID:            "h-" + code,
		Code:          code,
		AssetType:     AssetDomesticStock,
		AccountType:   "特定口座",
		Quantity:      NewAmount(qty),
		PurchasePrice: NewAmount(cost),
	}
}

func TestValueHoldingEndToEndExample(t *testing.T) {
	snapshot := AssetSnapshot{
		Code:                     "7203",
		Price:                    Value(1200),
		PER:                      Value(12),
		PBR:                      Value(0.9),
		ROE:                      Value(15),
		DividendYield:            Value(3),
		ConsecutiveIncreaseYears: Value(4),
		AnnualDividend:           Value(36),
	}
	vh := ValueHolding(testHolding("7203", 100, 1000), snapshot)

	assert.False(t, vh.PriceUnavailable)
	assert.Equal(t, Value(120000), vh.MarketValue)
	assert.Equal(t, Value(20000), vh.ProfitLoss)
	assert.Equal(t, Value(20), vh.ProfitLossRate)
	assert.Equal(t, Value(100000), vh.InvestmentAmount)
	assert.Equal(t, Value(3600), vh.EstimatedAnnualDividend)

	scored := ScoreAsset(snapshot, DefaultHighlightRules())
	assert.Equal(t, Score(10), scored.Score)
}

func TestValueHoldingConsistency(t *testing.T) {
	cases := []struct{ qty, cost, price float64 }{
		{100, 1000, 1200},
		{3, 2500.5, 1999.9},
		{12.345678, 10234, 11020.7},
		{1, 0.01, 0.02},
	}
	for _, c := range cases {
		vh := ValueHolding(testHolding("X", c.qty, c.cost), AssetSnapshot{Price: Value(c.price)})
		mv, ok := vh.MarketValue.Float()
		require.True(t, ok)
		pl, ok := vh.ProfitLoss.Float()
		require.True(t, ok)
		assert.InDelta(t, c.qty*c.cost, mv-pl, 1e-6)
	}
}

func TestValueHoldingPriceUnavailable(t *testing.T) {
	vh := ValueHolding(testHolding("1301", 10, 500), AssetSnapshot{Code: "1301", Price: Unavailable})
	assert.True(t, vh.PriceUnavailable)
	assert.False(t, vh.MarketValue.Available())
	assert.False(t, vh.ProfitLoss.Available())
	assert.False(t, vh.ProfitLossRate.Available())
	assert.Equal(t, Value(5000), vh.InvestmentAmount)
}

func TestValueHoldingZeroCostBasis(t *testing.T) {
	vh := ValueHolding(testHolding("1301", 0, 500), AssetSnapshot{Price: Value(600)})
	assert.Equal(t, Value(0), vh.MarketValue)
	assert.False(t, vh.ProfitLossRate.Available())
}

func TestValueHoldingsMarksMissingSnapshots(t *testing.T) {
	holdings := []Holding{testHolding("7203", 10, 1000), testHolding("9432", 100, 150)}
	snapshots := map[string]AssetSnapshot{"7203": {Code: "7203", Price: Value(1100)}}
	fetchErrs := map[string]error{"9432": errors.New("upstream timeout")}

	rows := ValueHoldings(holdings, snapshots, fetchErrs)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].PriceUnavailable)
	assert.True(t, rows[1].PriceUnavailable)
	assert.Equal(t, "upstream timeout", rows[1].FetchError)
	assert.Equal(t, AssetDomesticStock, rows[1].Asset.AssetType)
}

func TestConsecutiveIncreaseYears(t *testing.T) {
	tests := []struct {
		name    string
		history map[string]Numeric
		want    Numeric
	}{
		{"empty", nil, Unavailable},
		{"single year", map[string]Numeric{"2024": Value(50)}, Value(0)},
		{
			"three increases then flat",
			map[string]Numeric{"2024": Value(60), "2023": Value(55), "2022": Value(50), "2021": Value(45), "2020": Value(45)},
			Value(3),
		},
		{
			"latest year cut",
			map[string]Numeric{"2024": Value(40), "2023": Value(55), "2022": Value(50)},
			Value(0),
		},
		{
			"unavailable year stops the walk",
			map[string]Numeric{"2024": Value(60), "2023": Value(55), "2022": Unavailable, "2021": Value(10)},
			Value(1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConsecutiveIncreaseYears(tt.history))
		})
	}
}

func TestNormalizeDividendHistory(t *testing.T) {
	got := NormalizeDividendHistory(map[string]any{" 2024 ": "60円", "2023": 55.0, "2022": "---"})
	assert.Equal(t, Value(60), got["2024"])
	assert.Equal(t, Value(55), got["2023"])
	assert.False(t, got["2022"].Available())
	assert.Equal(t, Value(1), ConsecutiveIncreaseYears(got))
}

func TestParseAssetType(t *testing.T) {
	at, err := ParseAssetType("")
	require.NoError(t, err)
	assert.Equal(t, AssetDomesticStock, at)

	at, err = ParseAssetType(" Investment_Trust ")
	require.NoError(t, err)
	assert.Equal(t, AssetFund, at)

	_, err = ParseAssetType("bond")
	assert.Error(t, err)
}
