package kabulog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/marketdata"
)

// BuildPortfolio fetches every registered asset and derives scores,
// valuations and the aggregate. One failing asset becomes an error row; the
// call fails only when every asset failed.
func (c *Core) BuildPortfolio(ctx context.Context) (*Portfolio, error) {
	assets, err := c.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := c.ListHoldings(ctx)
	if err != nil {
		return nil, err
	}

	reqs := make([]marketdata.Request, len(assets))
	for i, a := range assets {
		reqs[i] = marketdata.Request{Code: a.Code, AssetType: a.AssetType}
	}
	results := marketdata.FetchAll(ctx, c.source, reqs, c.concurrency)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshots := make(map[string]analytics.AssetSnapshot, len(results))
	fetchErrs := make(map[string]error)
	var firstErr, limited error
	for _, a := range assets {
		r := results[a.Code]
		if r.Err != nil {
			fetchErrs[a.Code] = r.Err
			if firstErr == nil {
				firstErr = r.Err
			}
			if limited == nil && errors.Is(r.Err, cooldown.ErrFetchRefused) {
				limited = r.Err
			}
			c.logger.Warn("market data fetch failed", "code", a.Code, "err", r.Err)
			continue
		}
		snapshots[a.Code] = r.Snapshot
	}
	if len(assets) > 0 && len(fetchErrs) == len(assets) {
		if limited != nil {
			return nil, limited
		}
		return nil, WrapError(ErrCodeUpstream, "market data unavailable for every asset", firstErr)
	}

	p := c.assemble(assets, holdings, snapshots, fetchErrs)
	c.logger.Info("portfolio refreshed", "assets", len(assets), "holdings", len(holdings), "failed", len(fetchErrs))
	c.logOperation(ctx, OpRefresh, "", fmt.Sprintf("assets=%d failed=%d", len(assets), len(fetchErrs)))
	return p, nil
}

// assemble derives a Portfolio from already fetched snapshots.
func (c *Core) assemble(assets []Asset, holdings []analytics.Holding, snapshots map[string]analytics.AssetSnapshot, fetchErrs map[string]error) *Portfolio {
	rules := c.rules.Get()
	valued := analytics.ValueHoldings(holdings, snapshots, fetchErrs)

	byCode := make(map[string][]analytics.ValuedHolding, len(assets))
	for _, vh := range valued {
		byCode[vh.Code] = append(byCode[vh.Code], vh)
	}

	stocks := make([]StockRow, 0, len(assets))
	for _, a := range assets {
		snapshot, ok := snapshots[a.Code]
		if !ok {
			snapshot = analytics.AssetSnapshot{Code: a.Code, Name: a.Name, AssetType: a.AssetType}
		}
		row := StockRow{
			ScoredAsset: analytics.ScoreAsset(snapshot, rules),
			Classification: analytics.ClassifyHolding(analytics.ValuedHolding{
				Holding: analytics.Holding{Code: a.Code, AssetType: a.AssetType},
				Asset:   snapshot,
			}),
			Holdings: byCode[a.Code],
		}
		if row.Holdings == nil {
			row.Holdings = []analytics.ValuedHolding{}
		}
		if err := fetchErrs[a.Code]; err != nil {
			row.FetchError = err.Error()
		}
		stocks = append(stocks, row)
	}

	return &Portfolio{
		Stocks:      stocks,
		Holdings:    valued,
		Aggregate:   analytics.AggregatePortfolio(valued),
		Rules:       rules,
		GeneratedAt: c.now(),
		snapshots:   snapshots,
		fetchErrs:   fetchErrs,
	}
}

// Portfolio returns the portfolio through the bulk refresh cooldown. Inside
// the window the cached portfolio is returned with Stale set. Without a
// cache a COOLDOWN error carries the remaining wait and a retry is scheduled.
func (c *Core) Portfolio(ctx context.Context) (PortfolioResult, error) {
	out := c.refresh.Request(ctx, c.BuildPortfolio)
	gate := c.refresh.Gate()
	last, _ := gate.LastFetch()

	if out.HasValue {
		if out.Err != nil {
			c.logger.Warn("refresh failed, serving cached portfolio", "err", out.Err)
		}
		return PortfolioResult{
			Portfolio:     out.Value,
			Stale:         out.Stale,
			LastRefresh:   last,
			NextRefreshIn: gate.TimeUntilNextFetch(),
		}, nil
	}

	switch {
	case errors.Is(out.Err, cooldown.ErrFetchRefused):
		cause := out.Err
		remaining, ok := cooldown.RemainingFrom(cause)
		if !ok || remaining <= 0 {
			// A 429 without Retry-After: report the retry actually scheduled.
			remaining = out.RetryIn
			if remaining <= 0 {
				remaining = gate.TimeUntilNextFetch()
			}
			cause = fmt.Errorf("%w: %w", &cooldown.RefusedError{Remaining: remaining}, out.Err)
		}
		return PortfolioResult{NextRefreshIn: remaining}, WrapError(ErrCodeCooldown, cooldown.WaitMessage(remaining), cause)
	case errors.Is(out.Err, cooldown.ErrSuperseded):
		return PortfolioResult{}, WrapError(ErrCodeConflict, "refresh superseded by a newer request", out.Err)
	}
	var structured *Error
	if errors.As(out.Err, &structured) {
		return PortfolioResult{}, out.Err
	}
	return PortfolioResult{}, WrapError(ErrCodeUpstream, "portfolio refresh failed", out.Err)
}

// CachedPortfolio returns the last portfolio without fetching.
func (c *Core) CachedPortfolio() (*Portfolio, bool) {
	p, _, ok := c.refresh.Cached()
	return p, ok
}

// republish recomputes the cached portfolio after a local change, reusing
// cached snapshots so edits show up without waiting for the cooldown.
// extra snapshots replace cached ones for their codes.
func (c *Core) republish(ctx context.Context, extra ...analytics.AssetSnapshot) {
	cached, ok := c.CachedPortfolio()
	if !ok {
		return
	}
	assets, err := c.ListAssets(ctx)
	if err != nil {
		c.logger.Warn("republish skipped", "err", err)
		return
	}
	holdings, err := c.ListHoldings(ctx)
	if err != nil {
		c.logger.Warn("republish skipped", "err", err)
		return
	}
	snapshots := maps.Clone(cached.snapshots)
	fetchErrs := maps.Clone(cached.fetchErrs)
	if snapshots == nil {
		snapshots = make(map[string]analytics.AssetSnapshot)
	}
	if fetchErrs == nil {
		fetchErrs = make(map[string]error)
	}
	for _, s := range extra {
		snapshots[s.Code] = s
		delete(fetchErrs, s.Code)
	}
	c.refresh.Put(c.assemble(assets, holdings, snapshots, fetchErrs))
}

// GetStock fetches one registered asset directly, outside the bulk cooldown.
func (c *Core) GetStock(ctx context.Context, code string) (StockRow, error) {
	asset, err := c.GetAsset(ctx, code)
	if err != nil {
		return StockRow{}, err
	}
	holdings, err := c.HoldingsForCode(ctx, asset.Code)
	if err != nil {
		return StockRow{}, err
	}
	snapshot, err := c.source.Fetch(ctx, asset.Code, asset.AssetType)
	if err != nil {
		return StockRow{}, classifyFetchError(asset.Code, err)
	}
	p := c.assemble([]Asset{asset}, holdings, map[string]analytics.AssetSnapshot{asset.Code: snapshot}, nil)
	return p.Stocks[0], nil
}

// CooldownStatus reports the bulk refresh gate.
func (c *Core) CooldownStatus() CooldownStatus {
	gate := c.refresh.Gate()
	remaining := gate.TimeUntilNextFetch()
	status := CooldownStatus{
		CanFetch:         remaining <= 0,
		RemainingSeconds: int(math.Ceil(remaining.Seconds())),
		WindowSeconds:    int(gate.Window().Seconds()),
		State:            c.refresh.State().String(),
	}
	if last, ok := gate.LastFetch(); ok {
		status.LastFetch = last
	}
	if remaining > 0 {
		status.Message = cooldown.WaitMessage(remaining)
	}
	return status
}

// Sort keys accepted by SortStocks.
const (
	SortByScore         = "score"
	SortByCode          = "code"
	SortByPER           = "per"
	SortByPBR           = "pbr"
	SortByROE           = "roe"
	SortByDividendYield = "yield"
	SortByChangePercent = "change_percent"
	SortByMarketValue   = "market_value"
)

// SortStocks orders rows in place by key. Missing values always sort last.
func SortStocks(rows []StockRow, key string, dir analytics.SortDirection) error {
	var metric func(StockRow) analytics.Numeric
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "", SortByScore:
		metric = func(r StockRow) analytics.Numeric {
			if !r.Score.Computable() {
				return analytics.Unavailable
			}
			return analytics.Value(float64(r.Score))
		}
	case SortByCode:
		sort.SliceStable(rows, func(i, j int) bool {
			if dir == analytics.Descending {
				return rows[i].Code > rows[j].Code
			}
			return rows[i].Code < rows[j].Code
		})
		return nil
	case SortByPER:
		metric = func(r StockRow) analytics.Numeric { return r.PER }
	case SortByPBR:
		metric = func(r StockRow) analytics.Numeric { return r.PBR }
	case SortByROE:
		metric = func(r StockRow) analytics.Numeric { return r.ROE }
	case SortByDividendYield:
		metric = func(r StockRow) analytics.Numeric { return r.DividendYield }
	case SortByChangePercent:
		metric = func(r StockRow) analytics.Numeric { return r.ChangePercent }
	case SortByMarketValue:
		metric = rowMarketValue
	default:
		return NewError(ErrCodeInvalidInput, "unknown sort key: "+key)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return analytics.Compare(metric(rows[i]), metric(rows[j]), dir) < 0
	})
	return nil
}

func rowMarketValue(r StockRow) analytics.Numeric {
	total, priced := 0.0, false
	for _, vh := range r.Holdings {
		if v, ok := vh.MarketValue.Float(); ok {
			total += v
			priced = true
		}
	}
	if !priced {
		return analytics.Unavailable
	}
	return analytics.Value(total)
}
