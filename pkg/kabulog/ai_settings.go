package kabulog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Advice providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	defaultAIProvider    = ProviderGemini
	defaultAIRiskProfile = "balanced"
	defaultAIHorizon     = "long"
)

// defaultAIModels is used when settings leave the model empty.
var defaultAIModels = map[string]string{
	ProviderGemini:    "gemini-2.5-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
}

var validAIRiskProfiles = map[string]struct{}{
	"conservative": {},
	"balanced":     {},
	"aggressive":   {},
}

var validAIHorizons = map[string]struct{}{
	"short":  {},
	"medium": {},
	"long":   {},
}

// AISettings are the persisted, non-secret advice settings. API keys are
// never stored.
type AISettings struct {
	Provider    string `json:"provider"`
	BaseURL     string `json:"base_url"`
	Model       string `json:"model"`
	RiskProfile string `json:"risk_profile"`
	Horizon     string `json:"horizon"`
}

func defaultAISettings() AISettings {
	return AISettings{
		Provider:    defaultAIProvider,
		Model:       defaultAIModels[defaultAIProvider],
		RiskProfile: defaultAIRiskProfile,
		Horizon:     defaultAIHorizon,
	}
}

func normalizeAISettings(settings AISettings) AISettings {
	normalized := settings
	normalized.Provider = strings.ToLower(strings.TrimSpace(normalized.Provider))
	if _, ok := defaultAIModels[normalized.Provider]; !ok {
		normalized.Provider = defaultAIProvider
	}
	normalized.BaseURL = strings.TrimRight(strings.TrimSpace(normalized.BaseURL), "/")
	normalized.Model = strings.TrimSpace(normalized.Model)
	if normalized.Model == "" {
		normalized.Model = defaultAIModels[normalized.Provider]
	}
	normalized.RiskProfile = strings.ToLower(strings.TrimSpace(normalized.RiskProfile))
	if _, ok := validAIRiskProfiles[normalized.RiskProfile]; !ok {
		normalized.RiskProfile = defaultAIRiskProfile
	}
	normalized.Horizon = strings.ToLower(strings.TrimSpace(normalized.Horizon))
	if _, ok := validAIHorizons[normalized.Horizon]; !ok {
		normalized.Horizon = defaultAIHorizon
	}
	return normalized
}

// GetAISettings returns persisted AI settings, or defaults when none are stored.
func (c *Core) GetAISettings(ctx context.Context) (AISettings, error) {
	settings := defaultAISettings()
	err := c.db.QueryRowContext(ctx, `
		SELECT provider, base_url, model, risk_profile, horizon
		FROM ai_settings
		WHERE id = 1
	`).Scan(&settings.Provider, &settings.BaseURL, &settings.Model, &settings.RiskProfile, &settings.Horizon)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return AISettings{}, dbError("read ai settings", err)
	}
	return normalizeAISettings(settings), nil
}

// SetAISettings persists AI settings after normalizing them.
func (c *Core) SetAISettings(ctx context.Context, settings AISettings) (AISettings, error) {
	normalized := normalizeAISettings(settings)
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ai_settings (id, provider, base_url, model, risk_profile, horizon, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			base_url = excluded.base_url,
			model = excluded.model,
			risk_profile = excluded.risk_profile,
			horizon = excluded.horizon,
			updated_at = CURRENT_TIMESTAMP
	`, normalized.Provider, normalized.BaseURL, normalized.Model, normalized.RiskProfile, normalized.Horizon)
	if err != nil {
		return AISettings{}, dbError("write ai settings", err)
	}
	return normalized, nil
}
