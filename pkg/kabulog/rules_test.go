package kabulog

import (
	"os"
	"path/filepath"
	"testing"

	"kabulog/pkg/analytics"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRulesFileDefaults(t *testing.T) {
	want := analytics.DefaultHighlightRules()

	if got := NewRulesFile("", nil).Get(); got.PER.Undervalued != want.PER.Undervalued {
		t.Errorf("empty path: got %+v", got)
	}
	missing := NewRulesFile(filepath.Join(t.TempDir(), "missing.json"), nil)
	if got := missing.Get(); got.DividendYield.Undervalued != want.DividendYield.Undervalued {
		t.Errorf("missing file: got %+v", got)
	}
}

func TestRulesFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	writeFile(t, path, `{"per": {"undervalued": 12, "overvalued": 20}, "yield": {"undervalued": 4}}`)

	rules, err := NewRulesFile(path, nil).Load()
	assertNoError(t, err, "load json")
	if rules.PER.Undervalued != 12 || *rules.PER.Overvalued != 20 {
		t.Errorf("per: %+v", rules.PER)
	}
	if rules.DividendYield.Undervalued != 4 {
		t.Errorf("yield: %+v", rules.DividendYield)
	}
	if rules.PBR.Undervalued != 1.0 {
		t.Errorf("absent thresholds keep defaults, got pbr %+v", rules.PBR)
	}

	// Edits apply on the next read.
	writeFile(t, path, `{"roe": {"undervalued": 8}}`)
	if got := NewRulesFile(path, nil).Get(); got.ROE.Undervalued != 8 {
		t.Errorf("roe after edit: %+v", got.ROE)
	}
}

func TestRulesFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	writeFile(t, path, `
[pbr]
undervalued = 0.8
overvalued = 1.5

[roe]
undervalued = 15.0
`)
	rules, err := NewRulesFile(path, nil).Load()
	assertNoError(t, err, "load toml")
	if rules.PBR.Undervalued != 0.8 || *rules.PBR.Overvalued != 1.5 {
		t.Errorf("pbr: %+v", rules.PBR)
	}
	if rules.ROE.Undervalued != 15 {
		t.Errorf("roe: %+v", rules.ROE)
	}
}

func TestRulesFileInvalidFallsBack(t *testing.T) {
	dir := t.TempDir()
	inverted := filepath.Join(dir, "inverted.json")
	writeFile(t, inverted, `{"per": {"undervalued": 30, "overvalued": 20}}`)
	_, err := NewRulesFile(inverted, nil).Load()
	assertErrorCode(t, err, ErrCodeValidation, "inverted thresholds")
	if got := NewRulesFile(inverted, nil).Get(); got.PER.Undervalued != 15 {
		t.Errorf("invalid file should fall back to defaults, got %+v", got.PER)
	}

	garbage := filepath.Join(dir, "garbage.json")
	writeFile(t, garbage, `{"per": `)
	if _, err := NewRulesFile(garbage, nil).Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestPortfolioUsesRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	writeFile(t, path, `{"per": {"undervalued": 5, "overvalued": 8}}`)
	env := setupTestEnv(t, path)
	env.source.set(toyota())
	testAddAsset(t, env.core, "7203")

	res, err := env.core.Portfolio(t.Context())
	assertNoError(t, err, "portfolio")
	if got := res.Portfolio.Stocks[0].ScoreBreakdown.PER; got != 0 {
		t.Errorf("PER 10 is overvalued under the file rules, got %d points", got)
	}
	if res.Portfolio.Rules.PER.Undervalued != 5 {
		t.Errorf("portfolio should carry the rules used, got %+v", res.Portfolio.Rules.PER)
	}
}
