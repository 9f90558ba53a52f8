package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/kabulog"
	"kabulog/pkg/marketdata"
)

type fakeSource struct {
	mu        sync.Mutex
	snapshots map[string]analytics.AssetSnapshot
}

func (f *fakeSource) Fetch(_ context.Context, code string, assetType analytics.AssetType) (analytics.AssetSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[code]
	if !ok {
		return analytics.AssetSnapshot{}, marketdata.ErrNotFound
	}
	s.AssetType = assetType
	return s, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func noopAfter(time.Duration, func()) cooldown.Timer { return noopTimer{} }

type testServer struct {
	router http.Handler
	core   *kabulog.Core
	dbPath string
	source *fakeSource
}

func toyotaSnapshot() analytics.AssetSnapshot {
	return analytics.AssetSnapshot{
		Code:                     "7203",
		Name:                     "トヨタ自動車",
		Industry:                 "輸送用機器",
		Price:                    analytics.Value(1200),
		ChangePercent:            analytics.Value(0.5),
		MarketCap:                analytics.Value(4.6e13),
		PER:                      analytics.Value(10),
		PBR:                      analytics.Value(0.9),
		ROE:                      analytics.Value(12),
		DividendYield:            analytics.Value(3.5),
		AnnualDividend:           analytics.Value(40),
		ConsecutiveIncreaseYears: analytics.Value(5),
	}
}

func nttSnapshot() analytics.AssetSnapshot {
	return analytics.AssetSnapshot{
		Code:                     "9432",
		Name:                     "NTT",
		Industry:                 "情報・通信業",
		Price:                    analytics.Value(150),
		MarketCap:                analytics.Value(2e13),
		PER:                      analytics.Value(20),
		PBR:                      analytics.Value(1.6),
		ROE:                      analytics.Value(9),
		DividendYield:            analytics.Value(3.3),
		AnnualDividend:           analytics.Value(5.2),
		ConsecutiveIncreaseYears: analytics.Unavailable,
	}
}

func openTestCore(t *testing.T, dbPath string, source marketdata.Source, logger *slog.Logger) *kabulog.Core {
	t.Helper()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	core, err := kabulog.OpenWithOptions(kabulog.Options{
		DBPath:    dbPath,
		Logger:    logger,
		Source:    source,
		Clock:     fixedClock{now: time.Date(2025, 4, 10, 1, 0, 0, 0, time.UTC)},
		AfterFunc: noopAfter,
	})
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	return core
}

// setupTestRouter creates a router over a temporary database and a fake
// market data source that knows 7203 and 9432.
func setupTestRouter(t *testing.T) *testServer {
	return setupTestRouterWithLogger(t, nil)
}

func setupTestRouterWithLogger(t *testing.T, logger *slog.Logger) *testServer {
	t.Helper()
	source := &fakeSource{snapshots: map[string]analytics.AssetSnapshot{
		"7203": toyotaSnapshot(),
		"9432": nttSnapshot(),
	}}
	dbPath := filepath.Join(t.TempDir(), "test.db")
	core := openTestCore(t, dbPath, source, logger)
	t.Cleanup(func() { core.Close() })
	return &testServer{router: NewRouter(core), core: core, dbPath: dbPath, source: source}
}

// doRequest performs a request and returns the response.
func doRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

// addStockWithHolding registers code and one 特定口座 lot.
func (s *testServer) addStockWithHolding(t *testing.T, code string, quantity, price float64) {
	t.Helper()
	rr := doRequest(s.router, http.MethodPost, "/api/stocks", map[string]string{"code": code})
	expectStatus(t, rr, http.StatusCreated)
	rr = doRequest(s.router, http.MethodPost, "/api/stocks/"+code+"/holdings", map[string]any{
		"account_type":   "特定口座",
		"broker":         "SBI証券",
		"quantity":       quantity,
		"purchase_price": price,
	})
	expectStatus(t, rr, http.StatusCreated)
}
