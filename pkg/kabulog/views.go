package kabulog

import (
	"math"
	"slices"
	"time"

	"kabulog/pkg/analytics"
)

// StocksView is the stock list served by the API and read by the CLI.
type StocksView struct {
	Stocks               []StockRow               `json:"stocks"`
	Rules                analytics.HighlightRules `json:"rules"`
	Stale                bool                     `json:"stale"`
	GeneratedAt          time.Time                `json:"generated_at"`
	LastRefresh          *time.Time               `json:"last_refresh,omitempty"`
	NextRefreshInSeconds int                      `json:"next_refresh_in_seconds"`
}

// AnalysisView is the portfolio analysis served by the API.
type AnalysisView struct {
	Aggregate            *analytics.Aggregate      `json:"aggregate"`
	Holdings             []analytics.ValuedHolding `json:"holdings"`
	Stale                bool                      `json:"stale"`
	GeneratedAt          time.Time                 `json:"generated_at"`
	LastRefresh          *time.Time                `json:"last_refresh,omitempty"`
	NextRefreshInSeconds int                       `json:"next_refresh_in_seconds"`
}

// StocksView copies the stock rows and sorts the copy; the cached
// portfolio is shared and must not be reordered. An empty key keeps
// registration order.
func (r PortfolioResult) StocksView(key string, dir analytics.SortDirection) (StocksView, error) {
	view := StocksView{
		Stale:                r.Stale,
		LastRefresh:          optionalTime(r.LastRefresh),
		NextRefreshInSeconds: ceilSeconds(r.NextRefreshIn),
		Stocks:               []StockRow{},
	}
	if r.Portfolio == nil {
		return view, nil
	}
	view.Stocks = slices.Clone(r.Portfolio.Stocks)
	view.Rules = r.Portfolio.Rules
	view.GeneratedAt = r.Portfolio.GeneratedAt
	if key != "" {
		if err := SortStocks(view.Stocks, key, dir); err != nil {
			return StocksView{}, err
		}
	}
	return view, nil
}

// AnalysisView returns the aggregate and valued holdings.
func (r PortfolioResult) AnalysisView() AnalysisView {
	view := AnalysisView{
		Stale:                r.Stale,
		LastRefresh:          optionalTime(r.LastRefresh),
		NextRefreshInSeconds: ceilSeconds(r.NextRefreshIn),
		Holdings:             []analytics.ValuedHolding{},
	}
	if r.Portfolio == nil {
		return view
	}
	view.Aggregate = r.Portfolio.Aggregate
	view.Holdings = r.Portfolio.Holdings
	view.GeneratedAt = r.Portfolio.GeneratedAt
	return view
}

// ParseSortDirection maps "asc"/"desc" to a direction. Anything else is descending.
func ParseSortDirection(s string) analytics.SortDirection {
	if s == "asc" || s == "ascending" {
		return analytics.Ascending
	}
	return analytics.Descending
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
