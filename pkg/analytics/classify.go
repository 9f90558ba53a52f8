package analytics

// Cyclicality buckets an industry by its sensitivity to the business cycle.
type Cyclicality string

const (
	Defensive        Cyclicality = "defensive"
	Cyclical         Cyclicality = "cyclical"
	OtherCyclicality Cyclicality = "other"
)

// Style is the value/growth tilt of a holding.
type Style string

const (
	StyleValue  Style = "value"
	StyleGrowth Style = "growth"
	StyleBlend  Style = "blend"
)

// CapTier is the market-capitalisation tier of a holding.
type CapTier string

const (
	CapLarge CapTier = "large"
	CapMid   CapTier = "mid"
	CapSmall CapTier = "small"
)

// Classification thresholds. Market cap is compared in the source data's
// unit, which for domestic equities is yen.
const (
	LargeCapThreshold = 1e12
	MidCapThreshold   = 1e11

	valuePERMax  = 15.0
	valuePBRMax  = 1.0
	growthPERMin = 25.0
	growthPBRMin = 2.5

	safetyPBRMax = 1.2

	FundSafetyScore    = 100.0
	ForeignSafetyScore = 10.0
)

// Industry names follow the TSE 33-sector classification.
var defensiveIndustries = industrySet(
	"食料品", "医薬品", "電気・ガス業", "陸運業", "情報・通信業", "小売業", "水産・農林業",
)

var cyclicalIndustries = industrySet(
	"鉄鋼", "非鉄金属", "化学", "機械", "電気機器", "輸送用機器", "海運業", "空運業", "鉱業",
	"石油・石炭製品", "建設業", "不動産業", "金属製品", "ガラス・土石製品", "パルプ・紙",
	"ゴム製品", "精密機器", "卸売業", "証券、商品先物取引業",
)

func industrySet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Classification is the per-holding output of ClassifyHolding.
type Classification struct {
	Cyclicality Cyclicality `json:"cyclicality"`
	Style       Style       `json:"style"`
	CapTier     CapTier     `json:"cap_tier"`
	SafetyScore float64     `json:"safety_score"`
}

// ClassifyIndustry maps an industry name to its cyclicality bucket.
func ClassifyIndustry(industry string) Cyclicality {
	if _, ok := defensiveIndustries[industry]; ok {
		return Defensive
	}
	if _, ok := cyclicalIndustries[industry]; ok {
		return Cyclical
	}
	return OtherCyclicality
}

// ClassifyStyle needs both PER and PBR; with either missing it is a blend.
func ClassifyStyle(per, pbr Numeric) Style {
	p, okPER := per.Float()
	b, okPBR := pbr.Float()
	if !okPER || !okPBR {
		return StyleBlend
	}
	if p < valuePERMax && b < valuePBRMax {
		return StyleValue
	}
	if p > growthPERMin || b > growthPBRMin {
		return StyleGrowth
	}
	return StyleBlend
}

// ClassifyCap returns the tier for a market cap. Unknown caps count as small.
func ClassifyCap(marketCap Numeric) CapTier {
	mc, ok := marketCap.Float()
	switch {
	case !ok:
		return CapSmall
	case mc >= LargeCapThreshold:
		return CapLarge
	case mc >= MidCapThreshold:
		return CapMid
	}
	return CapSmall
}

// ClassifyHolding assigns the cyclicality, style and cap tier of a holding
// and computes its 0..100 safety score.
func ClassifyHolding(vh ValuedHolding) Classification {
	s := vh.Asset
	assetType := s.AssetType
	if assetType == "" {
		assetType = vh.AssetType
	}
	c := Classification{
		Cyclicality: ClassifyIndustry(s.Industry),
		Style:       ClassifyStyle(s.PER, s.PBR),
		CapTier:     ClassifyCap(s.MarketCap),
	}
	c.SafetyScore = safetyScore(assetType, c, s)
	return c
}

func safetyScore(assetType AssetType, c Classification, s AssetSnapshot) float64 {
	switch assetType {
	case AssetFund:
		return FundSafetyScore
	case AssetForeignStock:
		return ForeignSafetyScore
	}
	score := 0.0
	if c.Cyclicality == Defensive {
		score += 25
	}
	switch c.CapTier {
	case CapLarge:
		score += 25
	case CapMid:
		score += 12.5
	}
	if years, ok := s.ConsecutiveIncreaseYears.Float(); ok && years >= MinConsecutiveIncreaseYears {
		score += 25
	}
	if pbr, ok := s.PBR.Float(); ok && pbr <= safetyPBRMax {
		score += 25
	}
	if roe, ok := s.ROE.Float(); ok && roe < 0 {
		score /= 2
	}
	return score
}
