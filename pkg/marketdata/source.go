// Package marketdata fetches asset snapshots from the quote proxy.
package marketdata

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"kabulog/pkg/analytics"
)

// Errors returned by sources. Use errors.Is to check for them.
var (
	// ErrInvalidCode indicates the code format is not recognised.
	ErrInvalidCode = errors.New("invalid asset code")
	// ErrNotFound indicates the proxy has no data for the code.
	ErrNotFound = errors.New("asset not found")
	// ErrCircuitOpen indicates the proxy is cooling down after repeated failures.
	ErrCircuitOpen = errors.New("market data source cooling down")
)

// Source fetches one asset snapshot.
type Source interface {
	Fetch(ctx context.Context, code string, assetType analytics.AssetType) (analytics.AssetSnapshot, error)
}

// Request names one asset to fetch.
type Request struct {
	Code      string
	AssetType analytics.AssetType
}

// Result is the outcome for one asset of a batch.
type Result struct {
	Snapshot analytics.AssetSnapshot
	Err      error
}

// FetchAll fetches every request with at most concurrency calls in flight.
// A failing asset is reported in its Result and never aborts the batch.
func FetchAll(ctx context.Context, src Source, reqs []Request, concurrency int) map[string]Result {
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			snapshot, err := src.Fetch(gctx, req.Code, req.AssetType)
			results[i] = Result{Snapshot: snapshot, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Result, len(reqs))
	for i, req := range reqs {
		out[req.Code] = results[i]
	}
	return out
}

// Pre-compiled code patterns: TSE codes (including the 130A style),
// ITA association fund codes and US tickers.
var (
	reJPStock = regexp.MustCompile(`^[0-9][0-9A-Z]{3}$`)
	reJPFund  = regexp.MustCompile(`^[0-9A-Z]{8}$`)
	reUSStock = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)
)

// NormalizeCode upper-cases and trims a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DetectAssetType guesses the asset type of a code.
func DetectAssetType(code string) (analytics.AssetType, error) {
	code = NormalizeCode(code)
	switch {
	case reJPStock.MatchString(code):
		return analytics.AssetDomesticStock, nil
	case reJPFund.MatchString(code):
		return analytics.AssetFund, nil
	case reUSStock.MatchString(code):
		return analytics.AssetForeignStock, nil
	}
	return "", ErrInvalidCode
}

// ValidateCode checks that code fits the given asset type.
func ValidateCode(code string, assetType analytics.AssetType) error {
	code = NormalizeCode(code)
	var ok bool
	switch assetType {
	case analytics.AssetDomesticStock:
		ok = reJPStock.MatchString(code)
	case analytics.AssetFund:
		ok = reJPFund.MatchString(code)
	case analytics.AssetForeignStock:
		ok = reUSStock.MatchString(code)
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}
