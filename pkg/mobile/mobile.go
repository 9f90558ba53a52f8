// Package mobile exposes kabulog to gomobile bindings. Every call takes and
// returns plain strings so it survives the binding layer; structured data is
// JSON.
package mobile

import (
	"context"
	"encoding/json"
	"time"

	"kabulog/pkg/analytics"
	"kabulog/pkg/kabulog"
	"kabulog/pkg/marketdata"
)

const callTimeout = 2 * time.Minute

// Core wraps the kabulog core for gomobile bindings.
type Core struct {
	core *kabulog.Core
}

// Open initializes the core with a database path and the market data
// proxy URL.
func Open(dbPath, marketDataURL string) (*Core, error) {
	core, err := kabulog.OpenWithOptions(kabulog.Options{
		DBPath:     dbPath,
		MarketData: marketdata.Options{BaseURL: marketDataURL},
	})
	if err != nil {
		return nil, err
	}
	return &Core{core: core}, nil
}

// Close releases resources.
func (c *Core) Close() error {
	if c == nil || c.core == nil {
		return nil
	}
	return c.core.Close()
}

// GetStocksJSON returns the stock list sorted by sortKey. order is "asc" or "desc".
func (c *Core) GetStocksJSON(sortKey, order string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := c.core.Portfolio(ctx)
	if err != nil {
		return "", err
	}
	view, err := result.StocksView(sortKey, kabulog.ParseSortDirection(order))
	if err != nil {
		return "", err
	}
	return marshalJSON(view)
}

// GetAnalysisJSON returns the portfolio analysis.
func (c *Core) GetAnalysisJSON() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	result, err := c.core.Portfolio(ctx)
	if err != nil {
		return "", err
	}
	return marshalJSON(result.AnalysisView())
}

// GetCooldownJSON reports the bulk refresh gate.
func (c *Core) GetCooldownJSON() (string, error) {
	return marshalJSON(c.core.CooldownStatus())
}

// GetAccountTypesJSON lists the account types.
func (c *Core) GetAccountTypesJSON() (string, error) {
	data, err := c.core.GetAccountTypes(context.Background())
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

// AddStockJSON registers an asset and returns it.
func (c *Core) AddStockJSON(code, assetType string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	asset, err := c.core.AddAsset(ctx, code, assetType)
	if err != nil {
		return "", err
	}
	return marshalJSON(asset)
}

// DeleteStocksJSON removes the codes in a JSON array and returns how many were deleted.
func (c *Core) DeleteStocksJSON(codesJSON string) (int, error) {
	var codes []string
	if err := json.Unmarshal([]byte(codesJSON), &codes); err != nil {
		return 0, kabulog.WrapError(kabulog.ErrCodeInvalidInput, "invalid codes JSON", err)
	}
	return c.core.DeleteAssets(context.Background(), codes)
}

// AddHoldingJSON adds a holding from a JSON payload and returns it.
func (c *Core) AddHoldingJSON(code, payloadJSON string) (string, error) {
	in, err := decodeHolding(payloadJSON)
	if err != nil {
		return "", err
	}
	h, err := c.core.AddHolding(context.Background(), code, in)
	if err != nil {
		return "", err
	}
	return marshalJSON(h)
}

// UpdateHoldingJSON replaces a holding's editable fields.
func (c *Core) UpdateHoldingJSON(id, payloadJSON string) (string, error) {
	in, err := decodeHolding(payloadJSON)
	if err != nil {
		return "", err
	}
	h, err := c.core.UpdateHolding(context.Background(), id, in)
	if err != nil {
		return "", err
	}
	return marshalJSON(h)
}

// DeleteHolding removes a holding by id.
func (c *Core) DeleteHolding(id string) error {
	return c.core.DeleteHolding(context.Background(), id)
}

// SnapshotJSON records this month's snapshot.
func (c *Core) SnapshotJSON() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	month, count, err := c.core.SnapshotNow(ctx)
	if err != nil {
		return "", err
	}
	return marshalJSON(snapshotPayload{Month: month, Holdings: count})
}

// GetHistoryJSON returns one month's snapshot rows, or the per-month
// totals when month is empty.
func (c *Core) GetHistoryJSON(month string) (string, error) {
	ctx := context.Background()
	if month == "" {
		data, err := c.core.GetMonthlySummary(ctx)
		if err != nil {
			return "", err
		}
		return marshalJSON(data)
	}
	data, err := c.core.GetHistory(ctx, month)
	if err != nil {
		return "", err
	}
	return marshalJSON(data)
}

func decodeHolding(payloadJSON string) (kabulog.HoldingInput, error) {
	var payload holdingPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return kabulog.HoldingInput{}, kabulog.WrapError(kabulog.ErrCodeInvalidInput, "invalid holding JSON", err)
	}
	return kabulog.HoldingInput{
		AccountType:   payload.AccountType,
		Broker:        payload.Broker,
		Quantity:      payload.Quantity,
		PurchasePrice: payload.PurchasePrice,
		Memo:          payload.Memo,
	}, nil
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type holdingPayload struct {
	AccountType   string           `json:"account_type"`
	Broker        string           `json:"broker"`
	Quantity      analytics.Amount `json:"quantity"`
	PurchasePrice analytics.Amount `json:"purchase_price"`
	Memo          string           `json:"memo"`
}

type snapshotPayload struct {
	Month    string `json:"month"`
	Holdings int    `json:"holdings"`
}
