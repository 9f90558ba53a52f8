// Package api exposes kabulog over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"kabulog/pkg/kabulog"
)

// NewRouter builds the HTTP API router.
func NewRouter(core *kabulog.Core) http.Handler {
	logger := slog.Default()
	if core != nil {
		logger = core.Logger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	h := &handler{core: core, logger: logger}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		// Account types
		r.Get("/account-types", h.getAccountTypes)
		r.Post("/account-types", h.addAccountType)
		r.Delete("/account-types/{name}", h.deleteAccountType)

		r.Get("/highlight-rules", h.getHighlightRules)
		r.Get("/recent-stocks", h.getRecentStocks)

		// Stocks and holdings
		r.Get("/stocks", h.getStocks)
		r.Post("/stocks", h.addStock)
		r.Delete("/stocks/bulk-delete", h.bulkDeleteStocks)
		r.Get("/stocks/{code}", h.getStock)
		r.Get("/stocks/{code}/holdings", h.getStockHoldings)
		r.Post("/stocks/{code}/holdings", h.addHolding)
		r.Put("/holdings/{id}", h.updateHolding)
		r.Delete("/holdings/{id}", h.deleteHolding)

		// Portfolio
		r.Get("/portfolio/analysis", h.getPortfolioAnalysis)
		r.Get("/portfolio/history", h.getPortfolioHistory)
		r.Post("/portfolio/snapshot", h.saveSnapshot)
		r.Post("/portfolio/advice", h.getAdvice)
		r.Get("/cooldown", h.getCooldown)

		// AI settings
		r.Get("/ai-settings", h.getAISettings)
		r.Put("/ai-settings", h.setAISettings)

		r.Get("/operation-logs", h.getOperationLogs)
	})

	return r
}

type handler struct {
	core   *kabulog.Core
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
