package kabulog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/marketdata"
)

// fakeSource serves canned snapshots.
type fakeSource struct {
	mu        sync.Mutex
	snapshots map[string]analytics.AssetSnapshot
	errs      map[string]error
	calls     int
	// hold, when set, parks the next Fetch until its context ends. The
	// channel is closed once the fetch is parked.
	hold chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snapshots: map[string]analytics.AssetSnapshot{},
		errs:      map[string]error{},
	}
}

func (f *fakeSource) set(s analytics.AssetSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s.Code] = s
	delete(f.errs, s.Code)
}

func (f *fakeSource) fail(code string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[code] = err
}

func (f *fakeSource) holdNext() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = make(chan struct{})
	return f.hold
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) Fetch(ctx context.Context, code string, assetType analytics.AssetType) (analytics.AssetSnapshot, error) {
	f.mu.Lock()
	hold := f.hold
	f.hold = nil
	f.mu.Unlock()
	if hold != nil {
		close(hold)
		<-ctx.Done()
		return analytics.AssetSnapshot{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[code]; err != nil {
		return analytics.AssetSnapshot{}, err
	}
	s, ok := f.snapshots[code]
	if !ok {
		return analytics.AssetSnapshot{}, marketdata.ErrNotFound
	}
	s.AssetType = assetType
	return s, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

// fakeAfter records scheduled retries without running them.
type fakeAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeAfter) AfterFunc(d time.Duration, _ func()) cooldown.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	return fakeTimer{}
}

type testEnv struct {
	core   *Core
	source *fakeSource
	clock  *fakeClock
	after  *fakeAfter
	dir    string
}

// setupTestDB creates a Core on a temporary database with a fake market
// data source and clock.
func setupTestDB(t *testing.T) (*Core, func()) {
	t.Helper()
	env := setupTestEnv(t, "")
	return env.core, func() { env.core.Close() }
}

func setupTestEnv(t *testing.T, rulesPath string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		source: newFakeSource(),
		clock:  &fakeClock{now: time.Date(2025, 3, 31, 16, 0, 0, 0, time.UTC)},
		after:  &fakeAfter{},
		dir:    dir,
	}
	core, err := OpenWithOptions(Options{
		DBPath:    filepath.Join(dir, "test.db"),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source:    env.source,
		RulesPath: rulesPath,
		Clock:     env.clock,
		AfterFunc: env.after.AfterFunc,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	env.core = core
	t.Cleanup(func() { core.Close() })
	return env
}

func toyota() analytics.AssetSnapshot {
	return analytics.AssetSnapshot{
		Code:                     "7203",
		Name:                     "トヨタ自動車",
		Industry:                 "輸送用機器",
		Price:                    analytics.Value(1200),
		MarketCap:                analytics.Value(4.6e13),
		PER:                      analytics.Value(10),
		PBR:                      analytics.Value(0.9),
		ROE:                      analytics.Value(12),
		DividendYield:            analytics.Value(3.5),
		AnnualDividend:           analytics.Value(40),
		ConsecutiveIncreaseYears: analytics.Value(5),
	}
}

func ntt() analytics.AssetSnapshot {
	return analytics.AssetSnapshot{
		Code:          "9432",
		Name:          "日本電信電話",
		Industry:      "情報・通信業",
		Price:         analytics.Value(150),
		MarketCap:     analytics.Value(1.3e13),
		PER:           analytics.Value(12),
		PBR:           analytics.Value(1.4),
		DividendYield: analytics.Value(3.4),
	}
}

func testAddAsset(t *testing.T, core *Core, code string) Asset {
	t.Helper()
	a, err := core.AddAsset(context.Background(), code, "")
	assertNoError(t, err, "add asset "+code)
	return a
}

func testAddHolding(t *testing.T, core *Core, code string, qty, price float64) analytics.Holding {
	t.Helper()
	h, err := core.AddHolding(context.Background(), code, HoldingInput{
		AccountType:   "特定口座",
		Broker:        "SBI証券",
		Quantity:      analytics.NewAmount(qty),
		PurchasePrice: analytics.NewAmount(price),
	})
	assertNoError(t, err, "add holding "+code)
	return h
}

var errUpstream = errors.New("upstream down")

func floatEquals(a, b, epsilon float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < epsilon
}

func assertFloatEquals(t *testing.T, got, want float64, msg string) {
	t.Helper()
	if !floatEquals(got, want, 0.001) {
		t.Errorf("%s: got %.4f, want %.4f", msg, got, want)
	}
}

func assertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

func assertErrorCode(t *testing.T, err error, code ErrorCode, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected %s error but got nil", msg, code)
	}
	if !IsErrorCode(err, code) {
		t.Fatalf("%s: expected %s, got %v", msg, code, err)
	}
}

func assertContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%s: string %q does not contain %q", msg, s, substr)
	}
}
