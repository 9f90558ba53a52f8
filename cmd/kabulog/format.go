package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/kabulog"
)

const missing = "-"

// currencyFor returns the quote currency of an asset type.
func currencyFor(t analytics.AssetType) string {
	if t == analytics.AssetForeignStock {
		return money.USD
	}
	return money.JPY
}

// formatMoney renders v in the currency's minor unit precision, e.g. ¥150,000 or $410.20.
func formatMoney(v float64, code string) string {
	cur := *money.New(0, code).Currency()
	minor := decimal.NewFromFloat(v).Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

// formatNumericMoney is formatMoney for values that may be unavailable.
func formatNumericMoney(n analytics.Numeric, code string) string {
	v, ok := n.Float()
	if !ok {
		return missing
	}
	return formatMoney(v, code)
}

func formatNumber(n analytics.Numeric, places int) string {
	v, ok := n.Float()
	if !ok {
		return missing
	}
	return strconv.FormatFloat(v, 'f', places, 64)
}

func formatPercent(n analytics.Numeric) string {
	v, ok := n.Float()
	if !ok {
		return missing
	}
	return fmt.Sprintf("%+.2f%%", v)
}

func formatScore(s analytics.Score) string {
	if !s.Computable() {
		return missing
	}
	return fmt.Sprintf("%d/%d", s, analytics.MaxScore)
}

// freshness describes where the data came from and when it can refresh.
func freshness(stale bool, lastRefresh *time.Time, nextSeconds int) string {
	var b strings.Builder
	if stale {
		b.WriteString("cached")
	} else {
		b.WriteString("fresh")
	}
	if lastRefresh != nil {
		fmt.Fprintf(&b, ", refreshed %s", lastRefresh.Local().Format("2006-01-02 15:04:05"))
	}
	if nextSeconds > 0 {
		fmt.Fprintf(&b, ", next refresh in %ds", nextSeconds)
	}
	return b.String()
}

// holdingsValue sums the priced market value of a stock's holdings.
func holdingsValue(row kabulog.StockRow) analytics.Numeric {
	total, priced := 0.0, false
	for _, h := range row.Holdings {
		if v, ok := h.MarketValue.Float(); ok {
			total += v
			priced = true
		}
	}
	if !priced {
		return analytics.Unavailable
	}
	return analytics.Value(total)
}

func writeStocks(w io.Writer, view kabulog.StocksView, stale bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tPRICE\tCHANGE\tPER\tPBR\tROE\tYIELD\tSCORE\tVALUE\t")
	for _, row := range view.Stocks {
		cur := currencyFor(row.AssetType)
		name := row.Name
		if row.FetchError != "" {
			name += " (!)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row.Code,
			name,
			formatNumericMoney(row.Price, cur),
			formatPercent(row.ChangePercent),
			formatNumber(row.PER, 1),
			formatNumber(row.PBR, 2),
			formatNumber(row.ROE, 1),
			formatNumber(row.DividendYield, 2),
			formatScore(row.Score),
			formatNumericMoney(holdingsValue(row), cur),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d stocks (%s)\n", len(view.Stocks), freshness(stale || view.Stale, view.LastRefresh, view.NextRefreshInSeconds))
	return err
}

func writeAnalysis(w io.Writer, view kabulog.AnalysisView, stale bool) error {
	agg := view.Aggregate
	if agg == nil {
		_, err := fmt.Fprintf(w, "No priced holdings (%s)\n", freshness(stale || view.Stale, view.LastRefresh, view.NextRefreshInSeconds))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Market value\t%s\t\n", formatMoney(agg.TotalMarketValue, money.JPY))
	fmt.Fprintf(tw, "Investment\t%s\t\n", formatMoney(agg.TotalInvestment, money.JPY))
	fmt.Fprintf(tw, "Profit/loss\t%s (%s)\t\n", formatMoney(agg.TotalProfitLoss, money.JPY), formatPercent(agg.TotalProfitLossRate))
	fmt.Fprintf(tw, "Annual dividend\t%s\t\n", formatMoney(agg.EstimatedAnnualDividend, money.JPY))
	fmt.Fprintf(tw, "Holdings\t%d (%d without price)\t\n", agg.HoldingCount, agg.ErrorCount)
	fmt.Fprintf(tw, "HHI\t%.0f (%s, top5 %.1f%%)\t\n", agg.HHI, agg.Concentration, agg.Top5Ratio)
	fmt.Fprintf(tw, "Safety score\t%.1f\t\n", agg.SafetyScore)
	if agg.Personality.Label != "" {
		fmt.Fprintf(tw, "Personality\t%s\t\n", agg.Personality.Label)
	}
	fmt.Fprintln(tw, "\t\t")
	writeBreakdown(tw, "By account type", agg.ByAccountType)
	writeBreakdown(tw, "By industry", agg.ByIndustry)
	writeBreakdown(tw, "By asset class", agg.ByAssetClass)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", freshness(stale || view.Stale, view.LastRefresh, view.NextRefreshInSeconds))
	return err
}

func writeBreakdown(w io.Writer, title string, entries []analytics.BreakdownEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "%s\t\t\n", title)
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\t%s\t%.1f%%\t\n", e.Key, formatMoney(e.MarketValue, money.JPY), e.Ratio)
	}
}

func writeHistory(w io.Writer, rows []kabulog.MonthlySummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tMARKET VALUE\tPROFIT/LOSS\tDIVIDEND\tHOLDINGS\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t\n",
			r.Month,
			formatMoney(r.TotalMarketValue, money.JPY),
			formatMoney(r.TotalProfitLoss, money.JPY),
			formatMoney(r.TotalAnnualDividend, money.JPY),
			r.HoldingCount,
		)
	}
	return tw.Flush()
}

func writeRules(w io.Writer, rules analytics.HighlightRules) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tUNDERVALUED\tOVERVALUED\t")
	for _, r := range []struct {
		name string
		t    analytics.Threshold
	}{
		{"PER", rules.PER},
		{"PBR", rules.PBR},
		{"ROE", rules.ROE},
		{"Yield", rules.DividendYield},
	} {
		over := missing
		if r.t.Overvalued != nil {
			over = strconv.FormatFloat(*r.t.Overvalued, 'f', -1, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", r.name, strconv.FormatFloat(r.t.Undervalued, 'f', -1, 64), over)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeHoldings(w io.Writer, holdings []analytics.ValuedHolding) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tACCOUNT\tQTY\tCOST\tVALUE\tP/L\tRATE\t")
	for _, h := range holdings {
		cur := currencyFor(h.AssetType)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			h.Code,
			h.Asset.Name,
			h.AccountType,
			h.Quantity.String(),
			formatNumericMoney(h.InvestmentAmount, cur),
			formatNumericMoney(h.MarketValue, cur),
			formatNumericMoney(h.ProfitLoss, cur),
			formatPercent(h.ProfitLossRate),
		)
	}
	return tw.Flush()
}

// remainingText renders a gate's remaining wait.
func remainingText(d time.Duration) string {
	if d <= 0 {
		return "ready"
	}
	return cooldown.WaitMessage(d)
}
