package api

import "kabulog/pkg/analytics"

type accountTypePayload struct {
	Name string `json:"name"`
}

type addStockPayload struct {
	Code      string `json:"code"`
	AssetType string `json:"asset_type"`
}

type bulkDeletePayload struct {
	Codes []string `json:"codes"`
}

type holdingPayload struct {
	AccountType   string           `json:"account_type"`
	Broker        string           `json:"broker"`
	Quantity      analytics.Amount `json:"quantity"`
	PurchasePrice analytics.Amount `json:"purchase_price"`
	Memo          string           `json:"memo"`
}

type aiSettingsPayload struct {
	Provider    string `json:"provider"`
	BaseURL     string `json:"base_url"`
	Model       string `json:"model"`
	RiskProfile string `json:"risk_profile"`
	Horizon     string `json:"horizon"`
}

type advicePayload struct {
	Provider    string `json:"provider"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	Model       string `json:"model"`
	RiskProfile string `json:"risk_profile"`
	Horizon     string `json:"horizon"`
}

type snapshotResponse struct {
	Month    string `json:"month"`
	Holdings int    `json:"holdings"`
}

type bulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}
