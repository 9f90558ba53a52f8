// Package client talks to the kabulog API server. The stock list and the
// portfolio analysis are fetched through their own cooldown coordinators so
// a client never calls the server more often than its window allows, even
// across separate processes sharing a state file.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/kabulog"
)

// Gate keys in the client state file.
const (
	KeyStocks   = "client.stocks"
	KeyAnalysis = "client.analysis"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient HTTPDoer
	Timeout    time.Duration
	// StateFile persists the last fetch times. Empty keeps them in memory.
	StateFile string
	Window    time.Duration
	Clock     cooldown.Clock
	AfterFunc cooldown.AfterFunc
	Logger    *slog.Logger
	// OnCountdown receives the wait before a scheduled retry.
	OnCountdown func(key string, wait time.Duration)
}

// Client is an API client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     HTTPDoer
	logger   *slog.Logger
	clock    cooldown.Clock
	stocks   *gated[kabulog.StocksView]
	analysis *gated[kabulog.AnalysisView]
}

// New builds a Client.
func New(opts Options) *Client {
	doer := opts.HTTPClient
	if doer == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = cooldown.SystemClock
	}
	window := opts.Window
	if window <= 0 {
		window = cooldown.DefaultWindow
	}
	var store cooldown.Store
	if opts.StateFile != "" {
		store = cooldown.NewFileStore(opts.StateFile)
	} else {
		store = cooldown.NewMemoryStore()
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    doer,
		logger:  logger,
		clock:   clock,
	}
	gc := gatedConfig{
		window:      window,
		store:       store,
		clock:       clock,
		after:       opts.AfterFunc,
		logger:      logger,
		onCountdown: opts.OnCountdown,
	}
	c.stocks = newGated[kabulog.StocksView](KeyStocks, gc)
	c.analysis = newGated[kabulog.AnalysisView](KeyAnalysis, gc)
	return c
}

// Result is a gated response.
type Result[T any] struct {
	Value T
	// Stale is set when Value came from the local cache.
	Stale bool
	// Fetched is set when the server was called for this result.
	Fetched bool
}

// Stocks returns the stock list sorted by key. Sorting happens locally so
// a cached list can be re-sorted without calling the server. When wait is
// set and the gate refuses with nothing cached, Stocks blocks until the
// scheduled retry delivers or ctx ends.
func (c *Client) Stocks(ctx context.Context, key string, dir analytics.SortDirection, wait bool) (Result[kabulog.StocksView], error) {
	res, err := c.stocks.get(ctx, wait, func(ctx context.Context) (kabulog.StocksView, error) {
		var view kabulog.StocksView
		err := c.do(ctx, http.MethodGet, "/api/stocks", nil, &view)
		return view, err
	})
	if err != nil {
		return res, err
	}
	res.Value.Stocks = slices.Clone(res.Value.Stocks)
	if key != "" {
		if err := kabulog.SortStocks(res.Value.Stocks, key, dir); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Analysis returns the portfolio analysis, gated like Stocks.
func (c *Client) Analysis(ctx context.Context, wait bool) (Result[kabulog.AnalysisView], error) {
	return c.analysis.get(ctx, wait, func(ctx context.Context) (kabulog.AnalysisView, error) {
		var view kabulog.AnalysisView
		err := c.do(ctx, http.MethodGet, "/api/portfolio/analysis", nil, &view)
		return view, err
	})
}

// LocalCooldown reports the client-side gates.
func (c *Client) LocalCooldown() map[string]time.Duration {
	return map[string]time.Duration{
		KeyStocks:   c.stocks.coord.Gate().TimeUntilNextFetch(),
		KeyAnalysis: c.analysis.coord.Gate().TimeUntilNextFetch(),
	}
}

// ServerCooldown returns the server's bulk refresh gate.
func (c *Client) ServerCooldown(ctx context.Context) (kabulog.CooldownStatus, error) {
	var status kabulog.CooldownStatus
	err := c.do(ctx, http.MethodGet, "/api/cooldown", nil, &status)
	return status, err
}

// Rules returns the active highlight rules.
func (c *Client) Rules(ctx context.Context) (analytics.HighlightRules, error) {
	var rules analytics.HighlightRules
	err := c.do(ctx, http.MethodGet, "/api/highlight-rules", nil, &rules)
	return rules, err
}

// AddStock registers an asset. An empty assetType is detected by the server.
func (c *Client) AddStock(ctx context.Context, code, assetType string) (kabulog.Asset, error) {
	var asset kabulog.Asset
	body := map[string]string{"code": code, "asset_type": assetType}
	if err := c.do(ctx, http.MethodPost, "/api/stocks", body, &asset); err != nil {
		return kabulog.Asset{}, err
	}
	c.invalidate()
	return asset, nil
}

// AddHolding adds a lot to a registered asset.
func (c *Client) AddHolding(ctx context.Context, code string, in kabulog.HoldingInput) (analytics.Holding, error) {
	var holding analytics.Holding
	path := "/api/stocks/" + url.PathEscape(code) + "/holdings"
	if err := c.do(ctx, http.MethodPost, path, in, &holding); err != nil {
		return analytics.Holding{}, err
	}
	c.invalidate()
	return holding, nil
}

// Snapshot asks the server to record this month's snapshot.
func (c *Client) Snapshot(ctx context.Context) (month string, holdings int, err error) {
	var resp struct {
		Month    string `json:"month"`
		Holdings int    `json:"holdings"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/portfolio/snapshot", nil, &resp); err != nil {
		return "", 0, err
	}
	return resp.Month, resp.Holdings, nil
}

// History returns the per-month totals.
func (c *Client) History(ctx context.Context) ([]kabulog.MonthlySummary, error) {
	var rows []kabulog.MonthlySummary
	err := c.do(ctx, http.MethodGet, "/api/portfolio/history", nil, &rows)
	return rows, err
}

// Close cancels pending retries.
func (c *Client) Close() {
	c.stocks.coord.Stop()
	c.analysis.coord.Stop()
}

// invalidate drops cached views after a mutation. The gates are untouched,
// so the next read may still be refused; it then waits rather than showing
// data that predates the mutation.
func (c *Client) invalidate() {
	c.stocks.coord.Invalidate()
	c.analysis.coord.Invalidate()
}

// APIError is a non-2xx response other than 429.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// errorBody mirrors the server's error response.
type errorBody struct {
	Message           string `json:"message"`
	ErrorCode         string `json:"error_code"`
	RequestID         string `json:"request_id"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.responseError(resp, data)
	}
	if dst == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) responseError(resp *http.Response, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
		if body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		wait := cooldown.ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now())
		if wait <= 0 && body.RetryAfterSeconds > 0 {
			wait = time.Duration(body.RetryAfterSeconds) * time.Second
		}
		return &cooldown.RateLimitError{RetryAfter: wait, Message: body.Message}
	}
	return &APIError{
		Status:    resp.StatusCode,
		Code:      body.ErrorCode,
		Message:   body.Message,
		RequestID: body.RequestID,
	}
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
