package analytics

import (
	"cmp"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ConcentrationLevel buckets the HHI.
type ConcentrationLevel string

const (
	WellDiversified      ConcentrationLevel = "well_diversified"
	SomewhatConcentrated ConcentrationLevel = "somewhat_concentrated"
	ConcentrationRisk    ConcentrationLevel = "concentration_risk"
)

const (
	hhiSomewhatConcentrated = 1500.0
	hhiConcentrationRisk    = 2500.0
	concentrationPenalty    = 0.9
	topConcentrationCount   = 5
)

// Breakdown labels for holdings with a missing category.
const (
	FundIndustryLabel    = "投資信託"
	UnknownIndustryLabel = "その他"
	UnknownAccountLabel  = "不明"
	UnknownBrokerLabel   = "未設定"
)

// ClassifyHHI maps an HHI value to its concentration level.
func ClassifyHHI(hhi float64) ConcentrationLevel {
	switch {
	case hhi >= hhiConcentrationRisk:
		return ConcentrationRisk
	case hhi >= hhiSomewhatConcentrated:
		return SomewhatConcentrated
	}
	return WellDiversified
}

// BreakdownEntry is one bucket of a breakdown. Ratios across a breakdown sum to 100.
type BreakdownEntry struct {
	Key         string  `json:"key"`
	MarketValue float64 `json:"market_value"`
	Ratio       float64 `json:"ratio"`
}

// WeightedAverages are market-value weighted metrics. A metric with no
// contributing holding is Unavailable.
type WeightedAverages struct {
	PER                      Numeric `json:"per"`
	PBR                      Numeric `json:"pbr"`
	ROE                      Numeric `json:"roe"`
	DividendYield            Numeric `json:"yield"`
	ConsecutiveIncreaseYears Numeric `json:"consecutive_increase_years"`
}

// Aggregate is the portfolio-level result of AggregatePortfolio. It is
// recomputed from scratch on every call.
type Aggregate struct {
	TotalMarketValue        float64            `json:"total_market_value"`
	// TotalInvestment covers every lot, priced or not. PricedInvestment is the
	// cost of the lots behind TotalMarketValue, so it equals
	// TotalMarketValue - TotalProfitLoss.
	TotalInvestment         float64            `json:"total_investment"`
	PricedInvestment        float64            `json:"priced_investment"`
	TotalProfitLoss         float64            `json:"total_profit_loss"`
	TotalProfitLossRate     Numeric            `json:"total_profit_loss_rate"`
	EstimatedAnnualDividend float64            `json:"estimated_annual_dividend"`
	HoldingCount            int                `json:"holding_count"`
	ErrorCount              int                `json:"error_count"`
	AssetCount              int                `json:"asset_count"`
	WeightedAverages        WeightedAverages   `json:"weighted_averages"`
	HHI                     float64            `json:"hhi"`
	Concentration           ConcentrationLevel `json:"concentration"`
	Top5Ratio               float64            `json:"top5_ratio"`
	ByIndustry              []BreakdownEntry   `json:"by_industry"`
	ByAccountType           []BreakdownEntry   `json:"by_account_type"`
	ByBroker                []BreakdownEntry   `json:"by_broker"`
	ByAssetClass            []BreakdownEntry   `json:"by_asset_class"`
	StyleMix                []BreakdownEntry   `json:"style_mix"`
	CyclicalityMix          []BreakdownEntry   `json:"cyclicality_mix"`
	CapMix                  []BreakdownEntry   `json:"cap_mix"`
	SafetyScore             float64            `json:"safety_score"`
	Personality             Personality        `json:"personality"`
}

// AggregatePortfolio folds valued holdings into portfolio statistics. It
// returns nil when the total market value is zero. Error rows count
// towards HoldingCount and ErrorCount but carry no weight.
func AggregatePortfolio(holdings []ValuedHolding) *Aggregate {
	agg := &Aggregate{HoldingCount: len(holdings)}
	byCode := newBuckets()
	industry := newBuckets()
	account := newBuckets()
	broker := newBuckets()
	assetClass := newBuckets()
	style := newBuckets()
	cyclicality := newBuckets()
	capMix := newBuckets()

	var weights, safety []float64
	var pricedInvestment float64
	metrics := map[string]*weighted{}
	addMetric := func(name string, v Numeric, w float64) {
		f, ok := v.Float()
		if !ok {
			return
		}
		m := metrics[name]
		if m == nil {
			m = &weighted{}
			metrics[name] = m
		}
		m.add(f, w)
	}

	for _, vh := range holdings {
		agg.TotalInvestment += vh.InvestmentAmount.OrZero()
		agg.EstimatedAnnualDividend += vh.EstimatedAnnualDividend.OrZero()
		if vh.PriceUnavailable {
			agg.ErrorCount++
		}
		mv, ok := vh.MarketValue.Float()
		if !ok || mv <= 0 {
			continue
		}
		agg.TotalMarketValue += mv
		agg.TotalProfitLoss += vh.ProfitLoss.OrZero()
		pricedInvestment += vh.InvestmentAmount.OrZero()

		s := vh.Asset
		addMetric("per", s.PER, mv)
		addMetric("pbr", s.PBR, mv)
		addMetric("roe", s.ROE, mv)
		addMetric("yield", s.DividendYield, mv)
		addMetric("years", s.ConsecutiveIncreaseYears, mv)

		assetType := s.AssetType
		if assetType == "" {
			assetType = vh.AssetType
		}
		c := ClassifyHolding(vh)
		weights = append(weights, mv)
		safety = append(safety, c.SafetyScore)

		byCode.add(vh.Code, mv)
		industry.add(industryLabel(assetType, s.Industry), mv)
		account.add(labelOr(vh.AccountType, UnknownAccountLabel), mv)
		broker.add(labelOr(vh.Broker, UnknownBrokerLabel), mv)
		assetClass.add(assetType.Label(), mv)
		style.add(string(c.Style), mv)
		cyclicality.add(string(c.Cyclicality), mv)
		capMix.add(capBucket(c.CapTier), mv)
	}

	if agg.TotalMarketValue <= 0 {
		return nil
	}
	total := agg.TotalMarketValue
	agg.PricedInvestment = round(pricedInvestment, 2)
	if pricedInvestment > 0 {
		agg.TotalProfitLossRate = Value(agg.TotalProfitLoss / pricedInvestment * 100).Round(2)
	}

	agg.WeightedAverages = WeightedAverages{
		PER:                      metrics["per"].mean(),
		PBR:                      metrics["pbr"].mean(),
		ROE:                      metrics["roe"].mean(),
		DividendYield:            metrics["yield"].mean(),
		ConsecutiveIncreaseYears: metrics["years"].mean(),
	}

	assets := byCode.entries(total)
	agg.AssetCount = len(assets)
	agg.HHI = round(HHI(byCode.values()), 2)
	agg.Concentration = ClassifyHHI(agg.HHI)
	agg.Top5Ratio = round(topRatio(byCode.values(), total), 2)

	agg.ByIndustry = industry.entries(total)
	agg.ByAccountType = account.entries(total)
	agg.ByBroker = broker.entries(total)
	agg.ByAssetClass = assetClass.entries(total)
	agg.StyleMix = style.entries(total)
	agg.CyclicalityMix = cyclicality.entries(total)
	agg.CapMix = capMix.entries(total)

	agg.SafetyScore = portfolioSafety(safety, weights, agg.HHI)
	agg.TotalMarketValue = round(agg.TotalMarketValue, 2)
	agg.TotalInvestment = round(agg.TotalInvestment, 2)
	agg.TotalProfitLoss = round(agg.TotalProfitLoss, 2)
	agg.EstimatedAnnualDividend = round(agg.EstimatedAnnualDividend, 2)
	agg.Personality = derivePersonality(agg)
	return agg
}

// HHI computes the Herfindahl-Hirschman index of the given market values,
// in percentage points squared. It is 10000 for a single asset.
func HHI(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return 0
	}
	var hhi float64
	for _, v := range values {
		pct := v / total * 100
		hhi += pct * pct
	}
	return hhi
}

// The concentration penalty applies to the safety axis only.
func portfolioSafety(scores, weights []float64, hhi float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	score := stat.Mean(scores, weights)
	if hhi >= hhiConcentrationRisk {
		score *= concentrationPenalty
	}
	return round(score, 1)
}

// topRatio is the share of the largest positions, from unrounded values.
func topRatio(values []float64, total float64) float64 {
	sorted := slices.Clone(values)
	slices.SortFunc(sorted, func(a, b float64) int { return cmp.Compare(b, a) })
	var sum float64
	for _, v := range sorted[:min(len(sorted), topConcentrationCount)] {
		sum += v
	}
	return sum / total * 100
}

func industryLabel(assetType AssetType, industry string) string {
	if assetType == AssetFund {
		return FundIndustryLabel
	}
	return labelOr(industry, UnknownIndustryLabel)
}

func capBucket(tier CapTier) string {
	if tier == CapLarge {
		return string(CapLarge)
	}
	return "mid_small"
}

func labelOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

type weighted struct {
	values  []float64
	weights []float64
}

func (w *weighted) add(v, weight float64) {
	w.values = append(w.values, v)
	w.weights = append(w.weights, weight)
}

func (w *weighted) mean() Numeric {
	if w == nil || len(w.values) == 0 {
		return Unavailable
	}
	return Value(stat.Mean(w.values, w.weights)).Round(2)
}

// buckets accumulates market value per key, remembering insertion order
// so ties sort deterministically.
type buckets struct {
	order []string
	sums  map[string]float64
}

func newBuckets() *buckets {
	return &buckets{sums: map[string]float64{}}
}

func (b *buckets) add(key string, v float64) {
	if _, ok := b.sums[key]; !ok {
		b.order = append(b.order, key)
	}
	b.sums[key] += v
}

func (b *buckets) values() []float64 {
	out := make([]float64, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.sums[k])
	}
	return out
}

func (b *buckets) entries(total float64) []BreakdownEntry {
	out := make([]BreakdownEntry, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, BreakdownEntry{
			Key:         k,
			MarketValue: round(b.sums[k], 2),
			Ratio:       round(b.sums[k]/total*100, 2),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MarketValue > out[j].MarketValue
	})
	return out
}
