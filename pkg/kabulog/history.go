package kabulog

import (
	"context"
	"database/sql"
	"fmt"

	"kabulog/pkg/analytics"
)

// SaveMonthlySnapshot stores the valued holdings of p under the current
// Tokyo month. An existing snapshot for the month is replaced in the same
// transaction.
func (c *Core) SaveMonthlySnapshot(ctx context.Context, p *Portfolio) (string, int, error) {
	if p == nil {
		return "", 0, NewError(ErrCodeInvalidInput, "portfolio required")
	}
	now := c.now()
	month := MonthInTokyo(now)
	date := DateInTokyo(now)

	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM portfolio_history WHERE month = ?", month); err != nil {
			return dbError("clear monthly snapshot", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO portfolio_history (
				month, snapshot_date, code, name, asset_type, account_type, quantity,
				purchase_price, price, market_value, profit_loss, estimated_annual_dividend
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return dbError("prepare snapshot insert", err)
		}
		defer stmt.Close()
		for _, vh := range p.Holdings {
			if _, err := stmt.ExecContext(ctx,
				month, date, vh.Code, nullableString(vh.Asset.Name), string(vh.AssetType), vh.AccountType,
				vh.Quantity.InexactFloat64(), vh.PurchasePrice.InexactFloat64(),
				numericArg(vh.Asset.Price), numericArg(vh.MarketValue), numericArg(vh.ProfitLoss),
				numericArg(vh.EstimatedAnnualDividend),
			); err != nil {
				return dbError("insert snapshot row", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}

	c.logger.Info("monthly snapshot saved", "month", month, "holdings", len(p.Holdings))
	c.logOperation(ctx, OpSnapshot, "", fmt.Sprintf("%s (%d holdings)", month, len(p.Holdings)))
	return month, len(p.Holdings), nil
}

// SnapshotNow refreshes through the cooldown and saves the result.
func (c *Core) SnapshotNow(ctx context.Context) (string, int, error) {
	res, err := c.Portfolio(ctx)
	if err != nil {
		return "", 0, err
	}
	return c.SaveMonthlySnapshot(ctx, res.Portfolio)
}

// GetHistory returns the snapshot rows of one month.
func (c *Core) GetHistory(ctx context.Context, month string) ([]HistoryRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT month, snapshot_date, code, name, asset_type, account_type, quantity,
			purchase_price, price, market_value, profit_loss, estimated_annual_dividend
		FROM portfolio_history
		WHERE month = ?
		ORDER BY id
	`, month)
	if err != nil {
		return nil, dbError("query history", err)
	}
	defer rows.Close()

	history := []HistoryRow{}
	for rows.Next() {
		var r HistoryRow
		var assetType string
		var name, accountType sql.NullString
		var price, marketValue, profitLoss, dividend sql.NullFloat64
		if err := rows.Scan(&r.Month, &r.SnapshotDate, &r.Code, &name, &assetType, &accountType,
			&r.Quantity, &r.PurchasePrice, &price, &marketValue, &profitLoss, &dividend); err != nil {
			return nil, dbError("scan history row", err)
		}
		r.Name = stringOrEmpty(name)
		r.AccountType = stringOrEmpty(accountType)
		r.AssetType = analytics.AssetType(assetType)
		r.Price = numericFromNull(price)
		r.MarketValue = numericFromNull(marketValue)
		r.ProfitLoss = numericFromNull(profitLoss)
		r.EstimatedAnnualDividend = numericFromNull(dividend)
		history = append(history, r)
	}
	return history, rows.Err()
}

// GetMonthlySummary totals every stored month, oldest first.
func (c *Core) GetMonthlySummary(ctx context.Context) ([]MonthlySummary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT month, MAX(snapshot_date),
			COALESCE(SUM(market_value), 0),
			COALESCE(SUM(profit_loss), 0),
			COALESCE(SUM(estimated_annual_dividend), 0),
			COUNT(*)
		FROM portfolio_history
		GROUP BY month
		ORDER BY month
	`)
	if err != nil {
		return nil, dbError("query monthly summary", err)
	}
	defer rows.Close()

	summaries := []MonthlySummary{}
	for rows.Next() {
		var s MonthlySummary
		if err := rows.Scan(&s.Month, &s.SnapshotDate, &s.TotalMarketValue, &s.TotalProfitLoss, &s.TotalAnnualDividend, &s.HoldingCount); err != nil {
			return nil, dbError("scan monthly summary", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func numericArg(n analytics.Numeric) any {
	if v, ok := n.Float(); ok {
		return v
	}
	return nil
}

func numericFromNull(v sql.NullFloat64) analytics.Numeric {
	if !v.Valid {
		return analytics.Unavailable
	}
	return analytics.Value(v.Float64)
}
