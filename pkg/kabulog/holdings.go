package kabulog

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"kabulog/pkg/analytics"
	"kabulog/pkg/marketdata"
)

// fundQuantityPlaces is the precision kept for fund units.
const fundQuantityPlaces = 6

const holdingColumns = `h.id, h.code, a.asset_type, h.account_type, h.broker, h.quantity, h.purchase_price, h.memo`

// ListHoldings returns every holding in insertion order.
func (c *Core) ListHoldings(ctx context.Context) ([]analytics.Holding, error) {
	return c.queryHoldings(ctx, "SELECT "+holdingColumns+" FROM holdings h JOIN assets a ON a.code = h.code ORDER BY h.rowid")
}

// HoldingsForCode returns the holdings of one asset.
func (c *Core) HoldingsForCode(ctx context.Context, code string) ([]analytics.Holding, error) {
	return c.queryHoldings(ctx,
		"SELECT "+holdingColumns+" FROM holdings h JOIN assets a ON a.code = h.code WHERE h.code = ? ORDER BY h.rowid",
		marketdata.NormalizeCode(code),
	)
}

// GetHolding returns one holding or a NOT_FOUND error.
func (c *Core) GetHolding(ctx context.Context, id string) (analytics.Holding, error) {
	holdings, err := c.queryHoldings(ctx,
		"SELECT "+holdingColumns+" FROM holdings h JOIN assets a ON a.code = h.code WHERE h.id = ?",
		strings.TrimSpace(id),
	)
	if err != nil {
		return analytics.Holding{}, err
	}
	if len(holdings) == 0 {
		return analytics.Holding{}, NewError(ErrCodeNotFound, "holding not found: "+id)
	}
	return holdings[0], nil
}

func (c *Core) queryHoldings(ctx context.Context, query string, args ...any) ([]analytics.Holding, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query holdings", err)
	}
	defer rows.Close()

	holdings := []analytics.Holding{}
	for rows.Next() {
		var h analytics.Holding
		var assetType string
		var broker, memo sql.NullString
		if err := rows.Scan(&h.ID, &h.Code, &assetType, &h.AccountType, &broker, &h.Quantity, &h.PurchasePrice, &memo); err != nil {
			return nil, dbError("scan holding", err)
		}
		h.AssetType = analytics.AssetType(assetType)
		h.Broker = stringOrEmpty(broker)
		h.Memo = stringOrEmpty(memo)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// AddHolding adds a lot to a registered asset.
func (c *Core) AddHolding(ctx context.Context, code string, in HoldingInput) (analytics.Holding, error) {
	asset, err := c.GetAsset(ctx, code)
	if err != nil {
		return analytics.Holding{}, err
	}
	if err := c.validateHoldingInput(ctx, asset.AssetType, &in); err != nil {
		return analytics.Holding{}, err
	}

	h := holdingFromInput(uuid.NewString(), asset, in)
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO holdings (id, code, account_type, broker, quantity, purchase_price, memo)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.Code, h.AccountType, nullableString(h.Broker), h.Quantity, h.PurchasePrice, nullableString(h.Memo))
	if err != nil {
		return analytics.Holding{}, dbError("insert holding", err)
	}

	c.logOperation(ctx, OpAddHolding, h.Code, h.ID)
	c.republish(ctx)
	return h, nil
}

// UpdateHolding replaces the editable fields of a holding.
func (c *Core) UpdateHolding(ctx context.Context, id string, in HoldingInput) (analytics.Holding, error) {
	existing, err := c.GetHolding(ctx, id)
	if err != nil {
		return analytics.Holding{}, err
	}
	if err := c.validateHoldingInput(ctx, existing.AssetType, &in); err != nil {
		return analytics.Holding{}, err
	}

	asset := Asset{Code: existing.Code, AssetType: existing.AssetType}
	h := holdingFromInput(existing.ID, asset, in)
	_, err = c.db.ExecContext(ctx, `
		UPDATE holdings
		SET account_type = ?, broker = ?, quantity = ?, purchase_price = ?, memo = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, h.AccountType, nullableString(h.Broker), h.Quantity, h.PurchasePrice, nullableString(h.Memo), h.ID)
	if err != nil {
		return analytics.Holding{}, dbError("update holding", err)
	}

	c.logOperation(ctx, OpUpdateHolding, h.Code, h.ID)
	c.republish(ctx)
	return h, nil
}

// DeleteHolding removes a holding.
func (c *Core) DeleteHolding(ctx context.Context, id string) error {
	existing, err := c.GetHolding(ctx, id)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM holdings WHERE id = ?", existing.ID); err != nil {
		return dbError("delete holding", err)
	}
	c.logOperation(ctx, OpDeleteHolding, existing.Code, existing.ID)
	c.republish(ctx)
	return nil
}

// validateHoldingInput trims and checks in. Fund quantities are rounded to
// six decimals; equity quantities must be whole shares.
func (c *Core) validateHoldingInput(ctx context.Context, assetType analytics.AssetType, in *HoldingInput) error {
	in.AccountType = strings.TrimSpace(in.AccountType)
	in.Broker = strings.TrimSpace(in.Broker)
	in.Memo = strings.TrimSpace(in.Memo)

	var problems []error
	if in.AccountType == "" {
		problems = append(problems, errors.New("account_type is required"))
	} else {
		ok, err := c.AccountTypeExists(ctx, in.AccountType)
		if err != nil {
			return err
		}
		if !ok {
			problems = append(problems, errors.New("unknown account_type: "+in.AccountType))
		}
	}
	if !in.PurchasePrice.IsPositive() {
		problems = append(problems, errors.New("purchase_price must be greater than 0"))
	}
	if assetType == analytics.AssetFund {
		in.Quantity = analytics.Amount{Decimal: in.Quantity.Round(fundQuantityPlaces)}
	} else if !in.Quantity.Equal(in.Quantity.Truncate(0)) {
		problems = append(problems, errors.New("quantity must be a whole number of shares"))
	}
	if !in.Quantity.IsPositive() {
		problems = append(problems, errors.New("quantity must be greater than 0"))
	}
	if len(problems) > 0 {
		return WrapError(ErrCodeValidation, "invalid holding", errors.Join(problems...))
	}
	return nil
}

func holdingFromInput(id string, asset Asset, in HoldingInput) analytics.Holding {
	return analytics.Holding{
		ID:            id,
		Code:          asset.Code,
		AssetType:     asset.AssetType,
		AccountType:   in.AccountType,
		Broker:        in.Broker,
		Quantity:      in.Quantity,
		PurchasePrice: in.PurchasePrice,
		Memo:          in.Memo,
	}
}
