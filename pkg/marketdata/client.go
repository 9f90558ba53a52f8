package marketdata

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
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"golang.org/x/time/rate"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
)

// HTTPDoer is an interface for making HTTP requests. It enables dependency
// injection for testing without network calls.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Snapshot fields that can be remapped with FieldMap.
const (
	FieldName            = "name"
	FieldIndustry        = "industry"
	FieldPrice           = "price"
	FieldChange          = "change"
	FieldChangePercent   = "change_percent"
	FieldMarketCap       = "market_cap"
	FieldPER             = "per"
	FieldPBR             = "pbr"
	FieldROE             = "roe"
	FieldEPS             = "eps"
	FieldDividendYield   = "dividend_yield"
	FieldAnnualDividend  = "annual_dividend"
	FieldDividendHistory = "dividend_history"
)

// FieldMap maps a snapshot field to a JSONPath expression in the proxy response.
type FieldMap map[string]string

// DefaultFieldMap reads the flat JSON document the quote proxy returns.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		FieldName:            "$.name",
		FieldIndustry:        "$.industry",
		FieldPrice:           "$.price",
		FieldChange:          "$.change",
		FieldChangePercent:   "$.change_percent",
		FieldMarketCap:       "$.market_cap",
		FieldPER:             "$.per",
		FieldPBR:             "$.pbr",
		FieldROE:             "$.roe",
		FieldEPS:             "$.eps",
		FieldDividendYield:   "$.dividend_yield",
		FieldAnnualDividend:  "$.annual_dividend",
		FieldDividendHistory: "$.dividend_history",
	}
}

// DefaultPaths are the proxy endpoints per asset type; %s is the escaped code.
func DefaultPaths() map[analytics.AssetType]string {
	return map[analytics.AssetType]string{
		analytics.AssetDomesticStock: "/stocks/%s",
		analytics.AssetFund:          "/funds/%s",
		analytics.AssetForeignStock:  "/us-stocks/%s",
	}
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Logger            *slog.Logger
	HTTPClient        HTTPDoer // Optional: inject custom client for testing
	HTTPTimeout       time.Duration
	CacheTTL          time.Duration
	RequestsPerSecond float64
	FailThreshold     int
	FailWindow        time.Duration
	BreakerCooldown   time.Duration
	Fields            FieldMap
	Paths             map[analytics.AssetType]string
	// MarketCapScale multiplies the parsed market cap, e.g. 1e6 when the
	// proxy reports millions of yen.
	MarketCapScale float64
	Now            func() time.Time
}

// Client fetches snapshots from the quote proxy. It caches results for a
// short TTL, rate limits outbound calls and opens a circuit after repeated
// failures.
type Client struct {
	baseURL        string
	logger         *slog.Logger
	client         HTTPDoer
	limiter        *rate.Limiter
	cacheTTL       time.Duration
	failThreshold  int
	failWindow     time.Duration
	cooldown       time.Duration
	fields         FieldMap
	paths          map[analytics.AssetType]string
	marketCapScale float64
	now            func() time.Time

	// Separate locks for cache and circuit breaker to reduce contention.
	cacheMu   sync.RWMutex
	cache     map[string]cacheEntry
	circuitMu sync.Mutex
	circuit   circuitState
}

type cacheEntry struct {
	snapshot analytics.AssetSnapshot
	ts       time.Time
}

type circuitState struct {
	failCount     int
	firstFailAt   time.Time
	cooldownUntil time.Time
}

// NewClient creates a Client with defaults for unset options.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDuration(opts.HTTPTimeout, 10*time.Second)}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	fields := DefaultFieldMap()
	for k, v := range opts.Fields {
		fields[k] = v
	}
	paths := DefaultPaths()
	for k, v := range opts.Paths {
		paths[k] = v
	}
	scale := opts.MarketCapScale
	if scale <= 0 {
		scale = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		logger:         logger,
		client:         client,
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		cacheTTL:       defaultDuration(opts.CacheTTL, 30*time.Second),
		failThreshold:  defaultInt(opts.FailThreshold, 3),
		failWindow:     defaultDuration(opts.FailWindow, 60*time.Second),
		cooldown:       defaultDuration(opts.BreakerCooldown, 120*time.Second),
		fields:         fields,
		paths:          paths,
		marketCapScale: scale,
		now:            now,
		cache:          map[string]cacheEntry{},
	}
}

// Fetch implements Source.
func (c *Client) Fetch(ctx context.Context, code string, assetType analytics.AssetType) (analytics.AssetSnapshot, error) {
	code = NormalizeCode(code)
	if assetType == "" {
		detected, err := DetectAssetType(code)
		if err != nil {
			return analytics.AssetSnapshot{}, fmt.Errorf("%s: %w", code, err)
		}
		assetType = detected
	}
	if cached, ok := c.getCached(code, assetType); ok {
		return cached, nil
	}
	if !c.available() {
		return analytics.AssetSnapshot{}, ErrCircuitOpen
	}
	pathTemplate, ok := c.paths[assetType]
	if !ok {
		return analytics.AssetSnapshot{}, fmt.Errorf("unsupported asset type %q", assetType)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return analytics.AssetSnapshot{}, err
	}
	c.logger.Info("fetching snapshot", "code", code, "assetType", assetType)
	body, err := c.httpGet(ctx, c.baseURL+fmt.Sprintf(pathTemplate, url.PathEscape(code)))
	if err != nil {
		// Not-found and rate limits are answers, not outages.
		var limited *cooldown.RateLimitError
		if !errors.Is(err, ErrNotFound) && !errors.As(err, &limited) && ctx.Err() == nil {
			c.recordFailure()
		}
		return analytics.AssetSnapshot{}, fmt.Errorf("fetch %s: %w", code, err)
	}
	snapshot, err := c.parse(body, code, assetType)
	if err != nil {
		c.recordFailure()
		return analytics.AssetSnapshot{}, fmt.Errorf("parse %s: %w", code, err)
	}
	c.recordSuccess()
	c.setCached(code, assetType, snapshot)
	return snapshot, nil
}

func (c *Client) parse(body []byte, code string, assetType analytics.AssetType) (analytics.AssetSnapshot, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return analytics.AssetSnapshot{}, err
	}

	s := analytics.AssetSnapshot{
		Code:           code,
		AssetType:      assetType,
		Name:           c.text(doc, FieldName),
		Price:          c.number(doc, FieldPrice),
		Change:         c.number(doc, FieldChange),
		ChangePercent:  c.number(doc, FieldChangePercent),
		MarketCap:      c.number(doc, FieldMarketCap),
		PER:            c.number(doc, FieldPER),
		PBR:            c.number(doc, FieldPBR),
		ROE:            c.number(doc, FieldROE),
		EPS:            c.number(doc, FieldEPS),
		DividendYield:  c.number(doc, FieldDividendYield),
		AnnualDividend: c.number(doc, FieldAnnualDividend),
		FetchedAt:      c.now(),
	}
	if mc, ok := s.MarketCap.Float(); ok {
		s.MarketCap = analytics.Value(mc * c.marketCapScale)
	}
	// Industry only applies to domestic equities.
	if assetType == analytics.AssetDomesticStock {
		s.Industry = c.text(doc, FieldIndustry)
	}
	if history, ok := c.lookup(doc, FieldDividendHistory).(map[string]any); ok {
		s.DividendHistory = analytics.NormalizeDividendHistory(history)
	}
	s.ConsecutiveIncreaseYears = analytics.ConsecutiveIncreaseYears(s.DividendHistory)
	if s.Name == "" && !s.Price.Available() {
		return analytics.AssetSnapshot{}, ErrNotFound
	}
	return s, nil
}

func (c *Client) lookup(doc any, field string) any {
	path, ok := c.fields[field]
	if !ok || path == "" {
		return nil
	}
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil
	}
	// jsonpath may wrap a single match in a list.
	if list, ok := v.([]any); ok && len(list) == 1 {
		return list[0]
	}
	return v
}

func (c *Client) number(doc any, field string) analytics.Numeric {
	return analytics.Normalize(c.lookup(doc, field))
}

func (c *Client) text(doc any, field string) string {
	switch v := c.lookup(doc, field).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

// maxResponseSize limits proxy responses to 1MB.
const maxResponseSize = 1 << 20

func (c *Client) httpGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &cooldown.RateLimitError{RetryAfter: cooldown.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func (c *Client) getCached(code string, assetType analytics.AssetType) (analytics.AssetSnapshot, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	entry, ok := c.cache[cacheKey(code, assetType)]
	if !ok || c.now().Sub(entry.ts) > c.cacheTTL {
		return analytics.AssetSnapshot{}, false
	}
	return entry.snapshot, true
}

func (c *Client) setCached(code string, assetType analytics.AssetType, s analytics.AssetSnapshot) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[cacheKey(code, assetType)] = cacheEntry{snapshot: s, ts: c.now()}
}

// Purge drops every cached snapshot.
func (c *Client) Purge() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = map[string]cacheEntry{}
}

func cacheKey(code string, assetType analytics.AssetType) string {
	return string(assetType) + ":" + code
}

func (c *Client) available() bool {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	return !c.now().Before(c.circuit.cooldownUntil)
}

func (c *Client) recordFailure() {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	now := c.now()
	if c.circuit.failCount == 0 || now.Sub(c.circuit.firstFailAt) > c.failWindow {
		c.circuit.failCount = 0
		c.circuit.firstFailAt = now
	}
	c.circuit.failCount++
	if c.circuit.failCount >= c.failThreshold {
		c.circuit.cooldownUntil = now.Add(c.cooldown)
		c.logger.Warn("market data circuit opened", "failures", c.circuit.failCount, "until", c.circuit.cooldownUntil)
	}
}

func (c *Client) recordSuccess() {
	c.circuitMu.Lock()
	defer c.circuitMu.Unlock()
	c.circuit = circuitState{}
}

func defaultDuration(v time.Duration, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultInt(v int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
