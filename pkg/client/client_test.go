package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/kabulog"
)

var fixedNow = time.Date(2025, 4, 10, 1, 0, 0, 0, time.UTC)

func fixedClock() cooldown.Clock {
	return cooldown.ClockFunc(func() time.Time { return fixedNow })
}

type nopTimer struct{}

func (nopTimer) Stop() bool { return true }

// recordingAfter remembers scheduled retries without running them.
type recordingAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingAfter) after(d time.Duration, _ func()) cooldown.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nopTimer{}
}

// immediateAfter runs scheduled retries right away.
func immediateAfter(_ time.Duration, f func()) cooldown.Timer {
	go f()
	return nopTimer{}
}

func stockRow(code string, score analytics.Score, per float64) kabulog.StockRow {
	return kabulog.StockRow{ScoredAsset: analytics.ScoredAsset{
		AssetSnapshot: analytics.AssetSnapshot{
			Code:      code,
			AssetType: analytics.AssetDomesticStock,
			Price:     analytics.Value(1000),
			PER:       analytics.Value(per),
		},
		Score: score,
	}}
}

func stocksHandler(calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		view := kabulog.StocksView{
			Stocks: []kabulog.StockRow{stockRow("7203", 4, 9.8), stockRow("9432", 6, 12)},
			Rules:  analytics.DefaultHighlightRules(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func newTestClient(t *testing.T, url string, after cooldown.AfterFunc) *Client {
	t.Helper()
	c := New(Options{
		BaseURL:   url,
		Clock:     fixedClock(),
		AfterFunc: after,
	})
	t.Cleanup(c.Close)
	return c
}

func TestStocksIsGatedAndSortedLocally(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(stocksHandler(&calls))
	defer srv.Close()
	c := newTestClient(t, srv.URL, (&recordingAfter{}).after)

	res, err := c.Stocks(context.Background(), kabulog.SortByScore, analytics.Descending, false)
	require.NoError(t, err)
	assert.True(t, res.Fetched)
	assert.False(t, res.Stale)
	require.Len(t, res.Value.Stocks, 2)
	assert.Equal(t, "9432", res.Value.Stocks[0].Code)

	res, err = c.Stocks(context.Background(), kabulog.SortByCode, analytics.Ascending, false)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Fetched)
	assert.Equal(t, "7203", res.Value.Stocks[0].Code)
	assert.Equal(t, int32(1), calls.Load())

	remaining := c.LocalCooldown()
	assert.Equal(t, cooldown.DefaultWindow, remaining[KeyStocks])
	assert.Equal(t, time.Duration(0), remaining[KeyAnalysis])
}

func TestStocksRejectsUnknownSortKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(stocksHandler(&calls))
	defer srv.Close()
	c := newTestClient(t, srv.URL, (&recordingAfter{}).after)

	_, err := c.Stocks(context.Background(), "color", analytics.Ascending, false)
	assert.Error(t, err)
}

func TestRateLimitIsRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":429,"message":"あと 0分30秒 お待ちください","error_code":"COOLDOWN","retry_after_seconds":30}`))
	}))
	defer srv.Close()
	rec := &recordingAfter{}
	c := newTestClient(t, srv.URL, rec.after)

	_, err := c.Analysis(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, cooldown.ErrFetchRefused)
	var limited *cooldown.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 30*time.Second, limited.RetryAfter)
	assert.Contains(t, limited.Message, "30秒")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.delays, 1)
	assert.Equal(t, 30*time.Second+cooldown.RetryBuffer, rec.delays[0])
}

func TestRateLimitFallsBackToBodySeconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":429,"message":"wait","retry_after_seconds":12}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, (&recordingAfter{}).after)

	_, err := c.Analysis(context.Background(), false)
	remaining, ok := cooldown.RemainingFrom(err)
	require.True(t, ok)
	assert.Equal(t, 12*time.Second, remaining)
}

func TestWaitDeliversScheduledRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(kabulog.AnalysisView{
			Aggregate: &analytics.Aggregate{TotalMarketValue: 150000, HoldingCount: 1},
		})
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, immediateAfter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Analysis(ctx, true)
	require.NoError(t, err)
	assert.True(t, res.Fetched)
	require.NotNil(t, res.Value.Aggregate)
	assert.Equal(t, 150000.0, res.Value.Aggregate.TotalMarketValue)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWaitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, (&recordingAfter{}).after)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Stocks(ctx, "", analytics.Descending, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateFileIsSharedAcrossClients(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(stocksHandler(&calls))
	defer srv.Close()
	state := filepath.Join(t.TempDir(), "client-state.json")

	first := New(Options{BaseURL: srv.URL, StateFile: state, Clock: fixedClock(), AfterFunc: (&recordingAfter{}).after})
	defer first.Close()
	_, err := first.Stocks(context.Background(), "", analytics.Descending, false)
	require.NoError(t, err)

	second := New(Options{BaseURL: srv.URL, StateFile: state, Clock: fixedClock(), AfterFunc: (&recordingAfter{}).after})
	defer second.Close()
	_, err = second.Stocks(context.Background(), "", analytics.Descending, false)
	var refused *cooldown.RefusedError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, cooldown.DefaultWindow, refused.Remaining)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":404,"message":"asset not found: 9999","error_code":"NOT_FOUND","request_id":"req-1"}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, nil)

	_, err := c.AddHolding(context.Background(), "9999", kabulog.HoldingInput{AccountType: "特定"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "req-1", apiErr.RequestID)
	assert.Contains(t, apiErr.Error(), "asset not found")
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, nil)

	_, err := c.Rules(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestAddStockInvalidatesCache(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stocks", stocksHandler(&calls))
	mux.HandleFunc("POST /api/stocks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(kabulog.Asset{Code: body["code"], AssetType: analytics.AssetDomesticStock})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv.URL, (&recordingAfter{}).after)

	_, err := c.Stocks(context.Background(), "", analytics.Descending, false)
	require.NoError(t, err)

	asset, err := c.AddStock(context.Background(), "6758", "")
	require.NoError(t, err)
	assert.Equal(t, "6758", asset.Code)

	_, err = c.Stocks(context.Background(), "", analytics.Descending, false)
	assert.ErrorIs(t, err, cooldown.ErrFetchRefused)
}

func TestSnapshotAndHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/portfolio/snapshot", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"month":"2025-04","holdings":3}`))
	})
	mux.HandleFunc("GET /api/portfolio/history", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"month":"2025-04","total_market_value":150000,"holding_count":3}]`))
	})
	mux.HandleFunc("GET /api/cooldown", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"can_fetch":false,"remaining_seconds":420,"window_seconds":600,"state":"cached-serving"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv.URL, nil)

	month, count, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-04", month)
	assert.Equal(t, 3, count)

	rows, err := c.History(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 150000.0, rows[0].TotalMarketValue)

	status, err := c.ServerCooldown(context.Background())
	require.NoError(t, err)
	assert.False(t, status.CanFetch)
	assert.Equal(t, 420, status.RemainingSeconds)
}
