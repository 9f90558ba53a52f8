package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"kabulog/pkg/kabulog"
)

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getAccountTypes(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetAccountTypes(r.Context())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) addAccountType(w http.ResponseWriter, r *http.Request) {
	var payload accountTypePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.AddAccountType(r.Context(), payload.Name)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) deleteAccountType(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account type")
		return
	}
	if err := h.core.DeleteAccountType(r.Context(), name); err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handler) getHighlightRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Rules())
}

func (h *handler) getRecentStocks(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.RecentCodes(r.Context())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"codes": result})
}

// getStocks serves the bulk refresh. Inside the cooldown window the cached
// list comes back with stale=true; with nothing cached the answer is 429.
func (h *handler) getStocks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := h.core.Portfolio(r.Context())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	view, err := result.StocksView(query.Get("sort"), kabulog.ParseSortDirection(query.Get("order")))
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) getStock(w http.ResponseWriter, r *http.Request) {
	code, err := pathParam(r, "code")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid code")
		return
	}
	result, err := h.core.GetStock(r.Context(), code)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) addStock(w http.ResponseWriter, r *http.Request) {
	var payload addStockPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.AddAsset(r.Context(), payload.Code, payload.AssetType)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) bulkDeleteStocks(w http.ResponseWriter, r *http.Request) {
	var payload bulkDeletePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(payload.Codes) == 0 {
		writeError(w, http.StatusBadRequest, "codes is required")
		return
	}
	deleted, err := h.core.DeleteAssets(r.Context(), payload.Codes)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkDeleteResponse{Deleted: deleted})
}

func (h *handler) getStockHoldings(w http.ResponseWriter, r *http.Request) {
	code, err := pathParam(r, "code")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid code")
		return
	}
	if _, err := h.core.GetAsset(r.Context(), code); err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	result, err := h.core.HoldingsForCode(r.Context(), code)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) addHolding(w http.ResponseWriter, r *http.Request) {
	code, err := pathParam(r, "code")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid code")
		return
	}
	var payload holdingPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.AddHolding(r.Context(), code, payload.input())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) updateHolding(w http.ResponseWriter, r *http.Request) {
	var payload holdingPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.UpdateHolding(r.Context(), chi.URLParam(r, "id"), payload.input())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) deleteHolding(w http.ResponseWriter, r *http.Request) {
	if err := h.core.DeleteHolding(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handler) getPortfolioAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.Portfolio(r.Context())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.AnalysisView())
}

// getPortfolioHistory returns one month's rows when ?month=YYYY-MM is given,
// otherwise the per-month summary.
func (h *handler) getPortfolioHistory(w http.ResponseWriter, r *http.Request) {
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	if month == "" {
		result, err := h.core.GetMonthlySummary(r.Context())
		if err != nil {
			writeErrorResponse(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	if !monthPattern.MatchString(month) {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	result, err := h.core.GetHistory(r.Context(), month)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) saveSnapshot(w http.ResponseWriter, r *http.Request) {
	month, count, err := h.core.SnapshotNow(r.Context())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Month: month, Holdings: count})
}

func (h *handler) getCooldown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.CooldownStatus())
}

func (h *handler) getAISettings(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.GetAISettings(r.Context())
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) setAISettings(w http.ResponseWriter, r *http.Request) {
	var payload aiSettingsPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.SetAISettings(r.Context(), kabulog.AISettings{
		Provider:    payload.Provider,
		BaseURL:     payload.BaseURL,
		Model:       payload.Model,
		RiskProfile: payload.RiskProfile,
		Horizon:     payload.Horizon,
	})
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getAdvice(w http.ResponseWriter, r *http.Request) {
	var payload advicePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.core.Advise(r.Context(), kabulog.AdviceRequest{
		Provider:    payload.Provider,
		BaseURL:     payload.BaseURL,
		APIKey:      payload.APIKey,
		Model:       payload.Model,
		RiskProfile: payload.RiskProfile,
		Horizon:     payload.Horizon,
	})
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getOperationLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := normalizeLimitOffset(parseIntDefault(query.Get("limit"), 100), parseIntDefault(query.Get("offset"), 0))
	result, err := h.core.GetOperationLogs(r.Context(), limit, offset)
	if err != nil {
		writeErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (p holdingPayload) input() kabulog.HoldingInput {
	return kabulog.HoldingInput{
		AccountType:   p.AccountType,
		Broker:        p.Broker,
		Quantity:      p.Quantity,
		PurchasePrice: p.PurchasePrice,
		Memo:          p.Memo,
	}
}

// pathParam returns a decoded URL parameter; account type names are
// usually percent-encoded Japanese.
func pathParam(r *http.Request, name string) (string, error) {
	return url.PathUnescape(chi.URLParam(r, name))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func normalizeLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
