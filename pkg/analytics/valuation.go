package analytics

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ValueHolding joins a holding with its snapshot. When the price is
// unavailable the market value, profit/loss and rate are all Unavailable
// and the holding is flagged as an error row.
func ValueHolding(h Holding, s AssetSnapshot) ValuedHolding {
	vh := ValuedHolding{
		Holding:        h,
		Asset:          s,
		MarketValue:    Unavailable,
		ProfitLoss:     Unavailable,
		ProfitLossRate: Unavailable,
	}
	invested := h.Quantity.Mul(h.PurchasePrice.Decimal)
	vh.InvestmentAmount = fromDecimal(invested)

	if div, ok := s.AnnualDividend.Float(); ok {
		vh.EstimatedAnnualDividend = fromDecimal(decimal.NewFromFloat(div).Mul(h.Quantity.Decimal))
	}

	price, ok := s.Price.Float()
	if !ok {
		vh.PriceUnavailable = true
		return vh
	}
	marketValue := decimal.NewFromFloat(price).Mul(h.Quantity.Decimal)
	profitLoss := marketValue.Sub(invested)
	vh.MarketValue = fromDecimal(marketValue)
	vh.ProfitLoss = fromDecimal(profitLoss)
	if !invested.IsZero() {
		vh.ProfitLossRate = fromDecimal(profitLoss.Div(invested).Mul(hundred))
	}
	return vh
}

// ValueHoldings values every holding against the snapshot for its code.
// Holdings without a snapshot become error rows carrying fetchErrs[code].
func ValueHoldings(holdings []Holding, snapshots map[string]AssetSnapshot, fetchErrs map[string]error) []ValuedHolding {
	out := make([]ValuedHolding, 0, len(holdings))
	for _, h := range holdings {
		snapshot, ok := snapshots[h.Code]
		if !ok {
			snapshot = AssetSnapshot{Code: h.Code, AssetType: h.AssetType}
		}
		vh := ValueHolding(h, snapshot)
		if err := fetchErrs[h.Code]; err != nil {
			vh.FetchError = err.Error()
		}
		out = append(out, vh)
	}
	return out
}
