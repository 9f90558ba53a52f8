package analytics

import (
	"fmt"
	"strings"
	"time"
)

// AssetType classifies what kind of security a code refers to.
type AssetType string

const (
	AssetDomesticStock AssetType = "jp_stock"
	AssetFund          AssetType = "investment_trust"
	AssetForeignStock  AssetType = "us_stock"
)

// AssetTypes lists the supported asset types in display order.
var AssetTypes = []AssetType{AssetDomesticStock, AssetFund, AssetForeignStock}

// ParseAssetType validates a raw asset type. An empty value means a domestic stock.
func ParseAssetType(raw string) (AssetType, error) {
	t := AssetType(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		return AssetDomesticStock, nil
	}
	for _, known := range AssetTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown asset type %q", raw)
}

// Label returns the display label used in breakdowns.
func (t AssetType) Label() string {
	switch t {
	case AssetDomesticStock:
		return "国内株式"
	case AssetFund:
		return "投資信託"
	case AssetForeignStock:
		return "米国株式"
	}
	return string(t)
}

// AssetSnapshot is the latest externally sourced data for one asset code.
// It is replaced wholesale on every successful fetch.
type AssetSnapshot struct {
	Code                     string             `json:"code"`
	Name                     string             `json:"name"`
	AssetType                AssetType          `json:"asset_type"`
	Industry                 string             `json:"industry,omitempty"`
	Price                    Numeric            `json:"price"`
	Change                   Numeric            `json:"change"`
	ChangePercent            Numeric            `json:"change_percent"`
	MarketCap                Numeric            `json:"market_cap"`
	PER                      Numeric            `json:"per"`
	PBR                      Numeric            `json:"pbr"`
	ROE                      Numeric            `json:"roe"`
	EPS                      Numeric            `json:"eps"`
	DividendYield            Numeric            `json:"dividend_yield"`
	AnnualDividend           Numeric            `json:"annual_dividend"`
	DividendHistory          map[string]Numeric `json:"dividend_history,omitempty"`
	ConsecutiveIncreaseYears Numeric            `json:"consecutive_increase_years"`
	FetchedAt                time.Time          `json:"fetched_at"`
}

// Metrics returns the five scoring inputs of the snapshot.
func (s AssetSnapshot) Metrics() Metrics {
	return Metrics{
		PER:                      s.PER,
		PBR:                      s.PBR,
		ROE:                      s.ROE,
		DividendYield:            s.DividendYield,
		ConsecutiveIncreaseYears: s.ConsecutiveIncreaseYears,
	}
}

// Holding is one lot of one asset in one account.
type Holding struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	AssetType     AssetType `json:"asset_type"`
	AccountType   string    `json:"account_type"`
	Broker        string    `json:"broker,omitempty"`
	Quantity      Amount    `json:"quantity"`
	PurchasePrice Amount    `json:"purchase_price"`
	Memo          string    `json:"memo,omitempty"`
}

// ValuedHolding is a holding joined with its snapshot and derived values.
type ValuedHolding struct {
	Holding
	Asset                   AssetSnapshot `json:"asset"`
	InvestmentAmount        Numeric       `json:"investment_amount"`
	MarketValue             Numeric       `json:"market_value"`
	ProfitLoss              Numeric       `json:"profit_loss"`
	ProfitLossRate          Numeric       `json:"profit_loss_rate"`
	EstimatedAnnualDividend Numeric       `json:"estimated_annual_dividend"`
	PriceUnavailable        bool          `json:"price_unavailable"`
	FetchError              string        `json:"fetch_error,omitempty"`
}
