package kabulog

import (
	"context"
	"errors"
	"testing"
	"time"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/marketdata"
)

func TestDefaultAccountTypes(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()

	types, err := core.GetAccountTypes(context.Background())
	assertNoError(t, err, "get account types")
	if len(types) != len(DefaultAccountTypes) {
		t.Fatalf("expected %d default account types, got %d", len(DefaultAccountTypes), len(types))
	}
	for i, name := range DefaultAccountTypes {
		if types[i].Name != name {
			t.Errorf("account type %d: got %q, want %q", i, types[i].Name, name)
		}
	}
}

func TestAddAndDeleteAccountType(t *testing.T) {
	env := setupTestEnv(t, "")
	core := env.core
	ctx := context.Background()

	at, err := core.AddAccountType(ctx, " iDeCo ")
	assertNoError(t, err, "add account type")
	if at.Name != "iDeCo" || at.ID == 0 {
		t.Errorf("unexpected account type: %+v", at)
	}
	_, err = core.AddAccountType(ctx, "iDeCo")
	assertErrorCode(t, err, ErrCodeDuplicate, "duplicate account type")
	_, err = core.AddAccountType(ctx, "  ")
	assertErrorCode(t, err, ErrCodeInvalidInput, "empty account type")

	env.source.set(toyota())
	testAddAsset(t, core, "7203")
	_, err = core.AddHolding(ctx, "7203", HoldingInput{
		AccountType:   "iDeCo",
		Quantity:      analytics.NewAmount(100),
		PurchasePrice: analytics.NewAmount(1000),
	})
	assertNoError(t, err, "add holding")

	err = core.DeleteAccountType(ctx, "iDeCo")
	assertErrorCode(t, err, ErrCodeInUse, "delete used account type")
	assertNoError(t, core.DeleteAccountType(ctx, "一般口座"), "delete unused account type")
	assertErrorCode(t, core.DeleteAccountType(ctx, "一般口座"), ErrCodeNotFound, "delete missing account type")
}

func TestAddAssetValidatesByFetch(t *testing.T) {
	env := setupTestEnv(t, "")
	core := env.core
	ctx := context.Background()
	env.source.set(toyota())

	a, err := core.AddAsset(ctx, " 7203 ", "")
	assertNoError(t, err, "add asset")
	if a.Code != "7203" || a.AssetType != analytics.AssetDomesticStock || a.Name != "トヨタ自動車" {
		t.Errorf("unexpected asset: %+v", a)
	}

	_, err = core.AddAsset(ctx, "7203", "jp_stock")
	assertErrorCode(t, err, ErrCodeDuplicate, "duplicate asset")

	_, err = core.AddAsset(ctx, "9999", "")
	assertErrorCode(t, err, ErrCodeNotFound, "unknown code")

	env.source.fail("8306", errUpstream)
	_, err = core.AddAsset(ctx, "8306", "")
	assertErrorCode(t, err, ErrCodeUpstream, "upstream failure")

	_, err = core.AddAsset(ctx, "AAPL", "jp_stock")
	assertErrorCode(t, err, ErrCodeInvalidInput, "code does not match type")
	_, err = core.AddAsset(ctx, "7203", "bond")
	assertErrorCode(t, err, ErrCodeInvalidInput, "unknown asset type")

	assets, err := core.ListAssets(ctx)
	assertNoError(t, err, "list assets")
	if len(assets) != 1 {
		t.Fatalf("failed adds must not be stored, got %d assets", len(assets))
	}
}

func TestAddAssetRateLimited(t *testing.T) {
	env := setupTestEnv(t, "")
	env.source.fail("7203", &cooldown.RateLimitError{RetryAfter: time.Minute})
	_, err := env.core.AddAsset(context.Background(), "7203", "")
	assertErrorCode(t, err, ErrCodeCooldown, "rate limited add")
	if !errors.Is(err, cooldown.ErrFetchRefused) {
		t.Errorf("expected ErrFetchRefused in chain, got %v", err)
	}
}

func TestRecentCodes(t *testing.T) {
	env := setupTestEnv(t, "")
	core := env.core
	ctx := context.Background()

	codes := []string{"1301", "1332", "1333", "1605", "1721", "1801", "1802", "1803", "1808", "1812", "1925", "1928"}
	for _, code := range codes {
		env.source.set(analytics.AssetSnapshot{Code: code, Name: code, Price: analytics.Value(100)})
		testAddAsset(t, core, code)
	}
	recent, err := core.RecentCodes(ctx)
	assertNoError(t, err, "recent codes")
	if len(recent) != MaxRecentCodes {
		t.Fatalf("expected %d recent codes, got %d", MaxRecentCodes, len(recent))
	}
	if recent[0] != "1928" || recent[MaxRecentCodes-1] != "1333" {
		t.Errorf("unexpected recent order: %v", recent)
	}
}

func TestDeleteAssetsCascadesHoldings(t *testing.T) {
	env := setupTestEnv(t, "")
	core := env.core
	ctx := context.Background()
	env.source.set(toyota())
	env.source.set(ntt())
	testAddAsset(t, core, "7203")
	testAddAsset(t, core, "9432")
	testAddHolding(t, core, "7203", 100, 1000)
	testAddHolding(t, core, "9432", 500, 160)

	n, err := core.DeleteAssets(ctx, []string{"7203", "0000"})
	assertNoError(t, err, "delete assets")
	if n != 1 {
		t.Errorf("expected 1 deleted asset, got %d", n)
	}
	holdings, err := core.ListHoldings(ctx)
	assertNoError(t, err, "list holdings")
	if len(holdings) != 1 || holdings[0].Code != "9432" {
		t.Errorf("expected only 9432 holdings left, got %+v", holdings)
	}
	_, err = core.DeleteAssets(ctx, nil)
	assertErrorCode(t, err, ErrCodeInvalidInput, "empty delete")
}

func TestHoldingLifecycle(t *testing.T) {
	env := setupTestEnv(t, "")
	core := env.core
	ctx := context.Background()
	env.source.set(toyota())
	testAddAsset(t, core, "7203")

	h := testAddHolding(t, core, "7203", 100, 1000)
	if h.ID == "" || h.AssetType != analytics.AssetDomesticStock {
		t.Fatalf("unexpected holding: %+v", h)
	}

	got, err := core.GetHolding(ctx, h.ID)
	assertNoError(t, err, "get holding")
	assertFloatEquals(t, got.Quantity.InexactFloat64(), 100, "quantity")
	assertFloatEquals(t, got.PurchasePrice.InexactFloat64(), 1000, "purchase price")
	if got.Broker != "SBI証券" {
		t.Errorf("broker: got %q", got.Broker)
	}

	updated, err := core.UpdateHolding(ctx, h.ID, HoldingInput{
		AccountType:   "新NISA",
		Quantity:      analytics.NewAmount(200),
		PurchasePrice: analytics.NewAmount(950),
		Memo:          " 買い増し ",
	})
	assertNoError(t, err, "update holding")
	if updated.AccountType != "新NISA" || updated.Memo != "買い増し" || updated.Broker != "" {
		t.Errorf("unexpected update: %+v", updated)
	}

	assertNoError(t, core.DeleteHolding(ctx, h.ID), "delete holding")
	_, err = core.GetHolding(ctx, h.ID)
	assertErrorCode(t, err, ErrCodeNotFound, "deleted holding")
	assertErrorCode(t, core.DeleteHolding(ctx, h.ID), ErrCodeNotFound, "delete twice")
}

func TestHoldingValidation(t *testing.T) {
	env := setupTestEnv(t, "")
	core := env.core
	ctx := context.Background()
	env.source.set(toyota())
	env.source.set(analytics.AssetSnapshot{Code: "0331418A", Name: "eMAXIS Slim", Price: analytics.Value(25000)})
	testAddAsset(t, core, "7203")
	testAddAsset(t, core, "0331418A")

	cases := []struct {
		name string
		code string
		in   HoldingInput
	}{
		{"unknown account type", "7203", HoldingInput{AccountType: "海外口座", Quantity: analytics.NewAmount(1), PurchasePrice: analytics.NewAmount(1)}},
		{"missing account type", "7203", HoldingInput{Quantity: analytics.NewAmount(1), PurchasePrice: analytics.NewAmount(1)}},
		{"zero price", "7203", HoldingInput{AccountType: "特定口座", Quantity: analytics.NewAmount(1)}},
		{"negative quantity", "7203", HoldingInput{AccountType: "特定口座", Quantity: analytics.NewAmount(-1), PurchasePrice: analytics.NewAmount(1)}},
		{"fractional shares", "7203", HoldingInput{AccountType: "特定口座", Quantity: analytics.NewAmount(1.5), PurchasePrice: analytics.NewAmount(1)}},
	}
	for _, tc := range cases {
		_, err := core.AddHolding(ctx, tc.code, tc.in)
		assertErrorCode(t, err, ErrCodeValidation, tc.name)
	}

	_, err := core.AddHolding(ctx, "1234", HoldingInput{AccountType: "特定口座", Quantity: analytics.NewAmount(1), PurchasePrice: analytics.NewAmount(1)})
	assertErrorCode(t, err, ErrCodeNotFound, "unregistered asset")

	fund, err := core.AddHolding(ctx, "0331418A", HoldingInput{
		AccountType:   "新NISA",
		Quantity:      analytics.NewAmount(12.34567891),
		PurchasePrice: analytics.NewAmount(20000),
	})
	assertNoError(t, err, "fund holding")
	if fund.Quantity.String() != "12.345679" {
		t.Errorf("fund quantity should keep 6 decimals, got %s", fund.Quantity.String())
	}
}

func TestTimestampStore(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTimestampStore(core.db)
	_, ok, err := store.Get("k")
	assertNoError(t, err, "get missing")
	if ok {
		t.Fatal("expected no timestamp")
	}
	stamp := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	assertNoError(t, store.Set("k", stamp), "set")
	assertNoError(t, store.Set("k", stamp.Add(time.Second)), "overwrite")
	got, ok, err := store.Get("k")
	assertNoError(t, err, "get")
	if !ok || !got.Equal(stamp.Add(time.Second)) {
		t.Errorf("got %v, %v", got, ok)
	}
	assertNoError(t, store.Delete("k"), "delete")
	if _, ok, _ := store.Get("k"); ok {
		t.Error("expected timestamp deleted")
	}
}

func TestOperationLogs(t *testing.T) {
	env := setupTestEnv(t, "")
	ctx := context.Background()
	env.source.set(toyota())
	testAddAsset(t, env.core, "7203")
	testAddHolding(t, env.core, "7203", 100, 1000)

	logs, err := env.core.GetOperationLogs(ctx, 10, 0)
	assertNoError(t, err, "get logs")
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Operation != OpAddHolding || logs[1].Operation != OpAddAsset {
		t.Errorf("unexpected order: %s, %s", logs[0].Operation, logs[1].Operation)
	}
	if logs[1].Code == nil || *logs[1].Code != "7203" {
		t.Errorf("expected code on log")
	}
}

func TestClassifyFetchError(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{marketdata.ErrInvalidCode, ErrCodeInvalidInput},
		{marketdata.ErrNotFound, ErrCodeNotFound},
		{&cooldown.RateLimitError{}, ErrCodeCooldown},
		{marketdata.ErrCircuitOpen, ErrCodeUpstream},
	}
	for _, tc := range cases {
		if got := classifyFetchError("7203", tc.err); !IsErrorCode(got, tc.code) {
			t.Errorf("%v: expected %s, got %v", tc.err, tc.code, got)
		}
	}
}
