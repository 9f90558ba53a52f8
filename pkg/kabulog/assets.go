package kabulog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/marketdata"
)

// ListAssets returns registered assets in registration order.
func (c *Core) ListAssets(ctx context.Context) ([]Asset, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT code, asset_type, name, created_at FROM assets ORDER BY rowid")
	if err != nil {
		return nil, dbError("list assets", err)
	}
	defer rows.Close()

	assets := []Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetAsset returns one asset or a NOT_FOUND error.
func (c *Core) GetAsset(ctx context.Context, code string) (Asset, error) {
	code = marketdata.NormalizeCode(code)
	row := c.db.QueryRowContext(ctx, "SELECT code, asset_type, name, created_at FROM assets WHERE code = ?", code)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, NewError(ErrCodeNotFound, "asset not found: "+code)
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (Asset, error) {
	var a Asset
	var assetType string
	var name, createdAt sql.NullString
	if err := row.Scan(&a.Code, &assetType, &name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Asset{}, err
		}
		return Asset{}, dbError("scan asset", err)
	}
	a.AssetType = analytics.AssetType(assetType)
	a.Name = stringOrEmpty(name)
	a.CreatedAt = stringOrEmpty(createdAt)
	return a, nil
}

// AddAsset registers code after confirming the market data source knows it.
// An empty assetType is detected from the code format. Nothing is stored
// when the validating fetch fails.
func (c *Core) AddAsset(ctx context.Context, code, assetType string) (Asset, error) {
	code = marketdata.NormalizeCode(code)
	if code == "" {
		return Asset{}, NewError(ErrCodeInvalidInput, "code required")
	}
	var at analytics.AssetType
	var err error
	if strings.TrimSpace(assetType) == "" {
		at, err = marketdata.DetectAssetType(code)
	} else if at, err = analytics.ParseAssetType(assetType); err == nil {
		err = marketdata.ValidateCode(code, at)
	}
	if err != nil {
		return Asset{}, WrapError(ErrCodeInvalidInput, "invalid code: "+code, err)
	}

	if _, err := c.GetAsset(ctx, code); err == nil {
		return Asset{}, NewError(ErrCodeDuplicate, "asset already exists: "+code)
	} else if !IsErrorCode(err, ErrCodeNotFound) {
		return Asset{}, err
	}

	snapshot, err := c.source.Fetch(ctx, code, at)
	if err != nil {
		return Asset{}, classifyFetchError(code, err)
	}

	asset := Asset{Code: code, Name: snapshot.Name, AssetType: at}
	err = c.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO assets (code, asset_type, name) VALUES (?, ?, ?)",
			asset.Code, string(asset.AssetType), nullableString(asset.Name),
		); err != nil {
			return dbError("insert asset", err)
		}
		return dbError("update recent codes", pushRecent(ctx, tx, code))
	})
	if err != nil {
		return Asset{}, err
	}

	c.logger.Info("asset added", "code", code, "asset_type", at, "name", asset.Name)
	c.logOperation(ctx, OpAddAsset, code, string(at))
	c.republish(ctx, snapshot)
	return asset, nil
}

// DeleteAssets removes assets and their holdings. Unknown codes are
// ignored; the number of deleted assets is returned.
func (c *Core) DeleteAssets(ctx context.Context, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, NewError(ErrCodeInvalidInput, "codes required")
	}
	deleted := 0
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		for _, raw := range codes {
			code := marketdata.NormalizeCode(raw)
			if _, err := tx.ExecContext(ctx, "DELETE FROM holdings WHERE code = ?", code); err != nil {
				return dbError("delete holdings", err)
			}
			result, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE code = ?", code)
			if err != nil {
				return dbError("delete asset", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return dbError("delete asset", err)
			}
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.logOperation(ctx, OpDeleteAssets, "", fmt.Sprintf("%s (%d deleted)", strings.Join(codes, ","), deleted))
	c.republish(ctx)
	return deleted, nil
}

// classifyFetchError maps market data failures onto error codes.
func classifyFetchError(code string, err error) error {
	switch {
	case errors.Is(err, marketdata.ErrInvalidCode):
		return WrapError(ErrCodeInvalidInput, "invalid code: "+code, err)
	case errors.Is(err, marketdata.ErrNotFound):
		return WrapError(ErrCodeNotFound, "no market data for "+code, err)
	case errors.Is(err, cooldown.ErrFetchRefused):
		return WrapError(ErrCodeCooldown, "market data source is rate limiting", err)
	}
	return WrapError(ErrCodeUpstream, "market data fetch failed for "+code, err)
}
