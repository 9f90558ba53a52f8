package kabulog

import (
	"time"

	"kabulog/pkg/analytics"
)

// Asset is a registered code. Its market data lives in snapshots, not here.
type Asset struct {
	Code      string              `json:"code"`
	Name      string              `json:"name"`
	AssetType analytics.AssetType `json:"asset_type"`
	CreatedAt string              `json:"created_at,omitempty"`
}

// AccountType is one entry of the open account type list.
type AccountType struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

// HoldingInput carries the editable fields of a holding.
type HoldingInput struct {
	AccountType   string           `json:"account_type"`
	Broker        string           `json:"broker"`
	Quantity      analytics.Amount `json:"quantity"`
	PurchasePrice analytics.Amount `json:"purchase_price"`
	Memo          string           `json:"memo"`
}

// OperationLog is one audit entry.
type OperationLog struct {
	ID        int64   `json:"id"`
	Operation string  `json:"operation_type"`
	Code      *string `json:"code,omitempty"`
	Details   *string `json:"details,omitempty"`
	CreatedAt *string `json:"created_at,omitempty"`
}

// Operation types recorded in operation_logs.
const (
	OpAddAsset      = "ADD_ASSET"
	OpDeleteAssets  = "DELETE_ASSETS"
	OpAddHolding    = "ADD_HOLDING"
	OpUpdateHolding = "UPDATE_HOLDING"
	OpDeleteHolding = "DELETE_HOLDING"
	OpRefresh       = "REFRESH"
	OpSnapshot      = "SNAPSHOT"
)

// StockRow is one asset with its score, classification and lots.
type StockRow struct {
	analytics.ScoredAsset
	Classification analytics.Classification  `json:"classification"`
	Holdings       []analytics.ValuedHolding `json:"holdings"`
	FetchError     string                    `json:"fetch_error,omitempty"`
}

// Portfolio is the output of one refresh: every asset scored, every
// holding valued, and the aggregate over them.
type Portfolio struct {
	Stocks      []StockRow                `json:"stocks"`
	Holdings    []analytics.ValuedHolding `json:"holdings"`
	Aggregate   *analytics.Aggregate      `json:"aggregate"`
	Rules       analytics.HighlightRules  `json:"rules"`
	GeneratedAt time.Time                 `json:"generated_at"`

	snapshots map[string]analytics.AssetSnapshot
	fetchErrs map[string]error
}

// PortfolioResult wraps a Portfolio with its freshness.
type PortfolioResult struct {
	Portfolio *Portfolio `json:"portfolio"`
	// Stale is set when the data came from cache because a refresh was refused or failed.
	Stale         bool          `json:"stale"`
	LastRefresh   time.Time     `json:"last_refresh"`
	NextRefreshIn time.Duration `json:"-"`
}

// CooldownStatus reports the bulk refresh gate.
type CooldownStatus struct {
	CanFetch         bool      `json:"can_fetch"`
	RemainingSeconds int       `json:"remaining_seconds"`
	WindowSeconds    int       `json:"window_seconds"`
	LastFetch        time.Time `json:"last_fetch,omitempty"`
	State            string    `json:"state"`
	Message          string    `json:"message,omitempty"`
}

// HistoryRow is one holding in a monthly snapshot.
type HistoryRow struct {
	Month                   string              `json:"month"`
	SnapshotDate            string              `json:"snapshot_date"`
	Code                    string              `json:"code"`
	Name                    string              `json:"name"`
	AssetType               analytics.AssetType `json:"asset_type"`
	AccountType             string              `json:"account_type"`
	Quantity                float64             `json:"quantity"`
	PurchasePrice           float64             `json:"purchase_price"`
	Price                   analytics.Numeric   `json:"price"`
	MarketValue             analytics.Numeric   `json:"market_value"`
	ProfitLoss              analytics.Numeric   `json:"profit_loss"`
	EstimatedAnnualDividend analytics.Numeric   `json:"estimated_annual_dividend"`
}

// MonthlySummary totals one month of history.
type MonthlySummary struct {
	Month               string  `json:"month"`
	SnapshotDate        string  `json:"snapshot_date"`
	TotalMarketValue    float64 `json:"total_market_value"`
	TotalProfitLoss     float64 `json:"total_profit_loss"`
	TotalAnnualDividend float64 `json:"total_annual_dividend"`
	HoldingCount        int     `json:"holding_count"`
}
