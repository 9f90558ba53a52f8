package kabulog

import (
	"testing"
	"time"

	"kabulog/pkg/analytics"
)

func TestStocksViewSortsACopy(t *testing.T) {
	p := &Portfolio{
		Stocks: []StockRow{
			{ScoredAsset: analytics.ScoredAsset{AssetSnapshot: analytics.AssetSnapshot{Code: "9432"}, Score: 2}},
			{ScoredAsset: analytics.ScoredAsset{AssetSnapshot: analytics.AssetSnapshot{Code: "7203"}, Score: 5}},
		},
		Rules: analytics.DefaultHighlightRules(),
	}
	last := time.Date(2025, 4, 10, 1, 0, 0, 0, time.UTC)
	result := PortfolioResult{Portfolio: p, Stale: true, LastRefresh: last, NextRefreshIn: 1500 * time.Millisecond}

	view, err := result.StocksView(SortByCode, analytics.Ascending)
	if err != nil {
		t.Fatalf("StocksView: %v", err)
	}
	if view.Stocks[0].Code != "7203" {
		t.Errorf("expected 7203 first, got %s", view.Stocks[0].Code)
	}
	if p.Stocks[0].Code != "9432" {
		t.Error("cached portfolio was reordered")
	}
	if !view.Stale || view.LastRefresh == nil || !view.LastRefresh.Equal(last) {
		t.Errorf("unexpected freshness: %+v", view)
	}
	if view.NextRefreshInSeconds != 2 {
		t.Errorf("next refresh should round up, got %d", view.NextRefreshInSeconds)
	}

	if _, err := result.StocksView("color", analytics.Ascending); err == nil {
		t.Error("expected error for unknown sort key")
	}
}

func TestViewsWithoutPortfolio(t *testing.T) {
	result := PortfolioResult{}
	view, err := result.StocksView("", analytics.Descending)
	if err != nil {
		t.Fatalf("StocksView: %v", err)
	}
	if view.Stocks == nil || len(view.Stocks) != 0 {
		t.Errorf("expected empty, non-nil stocks: %#v", view.Stocks)
	}
	if view.LastRefresh != nil || view.NextRefreshInSeconds != 0 {
		t.Errorf("unexpected freshness: %+v", view)
	}

	analysis := result.AnalysisView()
	if analysis.Aggregate != nil || analysis.Holdings == nil {
		t.Errorf("unexpected analysis view: %+v", analysis)
	}
}

func TestParseSortDirection(t *testing.T) {
	if ParseSortDirection("asc") != analytics.Ascending || ParseSortDirection("ascending") != analytics.Ascending {
		t.Error("asc should be ascending")
	}
	if ParseSortDirection("desc") != analytics.Descending || ParseSortDirection("") != analytics.Descending {
		t.Error("default should be descending")
	}
}
