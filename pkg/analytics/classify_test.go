package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStyle(t *testing.T) {
	tests := []struct {
		per, pbr Numeric
		want     Style
	}{
		{Value(12), Value(0.8), StyleValue},
		{Value(15), Value(0.8), StyleBlend},
		{Value(30), Value(1.5), StyleGrowth},
		{Value(18), Value(3.0), StyleGrowth},
		{Value(20), Value(1.5), StyleBlend},
		{Unavailable, Value(0.5), StyleBlend},
		{Value(40), Unavailable, StyleBlend},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStyle(tt.per, tt.pbr), "per=%v pbr=%v", tt.per, tt.pbr)
	}
}

func TestClassifyIndustryAndCap(t *testing.T) {
	assert.Equal(t, Defensive, ClassifyIndustry("医薬品"))
	assert.Equal(t, Cyclical, ClassifyIndustry("鉄鋼"))
	assert.Equal(t, OtherCyclicality, ClassifyIndustry("銀行業"))
	assert.Equal(t, OtherCyclicality, ClassifyIndustry(""))

	assert.Equal(t, CapLarge, ClassifyCap(Value(1e12)))
	assert.Equal(t, CapMid, ClassifyCap(Value(5e11)))
	assert.Equal(t, CapSmall, ClassifyCap(Value(5e10)))
	assert.Equal(t, CapSmall, ClassifyCap(Unavailable))
}

func TestClassifyHoldingSafety(t *testing.T) {
	domestic := func(s AssetSnapshot) ValuedHolding {
		s.AssetType = AssetDomesticStock
		s.Price = Value(1000)
		return ValueHolding(testHolding("X", 100, 900), s)
	}
	tests := []struct {
		name string
		vh   ValuedHolding
		want float64
	}{
		{
			name: "fund is fixed",
			vh:   ValueHolding(Holding{AssetType: AssetFund}, AssetSnapshot{AssetType: AssetFund, ROE: Value(-5)}),
			want: 100,
		},
		{
			name: "foreign equity is fixed",
			vh:   ValueHolding(Holding{AssetType: AssetForeignStock}, AssetSnapshot{AssetType: AssetForeignStock, Industry: "医薬品"}),
			want: 10,
		},
		{
			name: "all four criteria",
			vh: domestic(AssetSnapshot{
				Industry: "食料品", MarketCap: Value(2e12), ConsecutiveIncreaseYears: Value(5), PBR: Value(1.1), ROE: Value(8),
			}),
			want: 100,
		},
		{
			name: "mid cap earns half the cap points",
			vh:   domestic(AssetSnapshot{Industry: "化学", MarketCap: Value(3e11), PBR: Value(1.2)}),
			want: 37.5,
		},
		{
			name: "negative ROE halves the subtotal",
			vh: domestic(AssetSnapshot{
				Industry: "医薬品", MarketCap: Value(2e12), ConsecutiveIncreaseYears: Value(3), PBR: Value(2), ROE: Value(-1),
			}),
			want: 37.5,
		},
		{
			name: "nothing known",
			vh:   domestic(AssetSnapshot{}),
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHolding(tt.vh).SafetyScore)
		})
	}
}

func TestClassifyHoldingFallsBackToHoldingAssetType(t *testing.T) {
	vh := ValueHolding(Holding{AssetType: AssetFund}, AssetSnapshot{})
	c := ClassifyHolding(vh)
	assert.Equal(t, FundSafetyScore, c.SafetyScore)
	assert.Equal(t, StyleBlend, c.Style)
	assert.Equal(t, CapSmall, c.CapTier)
}
