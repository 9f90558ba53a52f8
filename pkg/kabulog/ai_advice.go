package kabulog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"kabulog/pkg/analytics"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	aiRequestTimeout     = 3 * time.Minute
	aiMaxOutputTokens    = 8192
	adviceMaxHoldings    = 30
)

const adviceSystemPrompt = `あなたは日本の個人投資家向けのポートフォリオ分析アシスタントです。
入力は計算済みのポートフォリオ指標（評価額、損益、業種・口座別構成比、HHI、安全性スコア、割安スコア）です。
数値は入力のものだけを使い、新しい株価や財務数値を作らないでください。
必ず JSON オブジェクトのみを出力し、Markdown や説明文を付けないでください。
JSON のフィールド:
- summary: string
- risk_level: string (low/medium/high)
- key_findings: string[]
- recommendations: [{code, action, rationale, priority}]
- disclaimer: string
action は increase/reduce/hold/review のいずれかを使ってください。
売買の指示や利益の約束はせず、必ずリスクに触れてください。`

// AdviceRequest selects the provider and credentials for one advice call.
// Empty fields fall back to the stored AI settings.
type AdviceRequest struct {
	Provider    string `json:"provider"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	Model       string `json:"model"`
	RiskProfile string `json:"risk_profile"`
	Horizon     string `json:"horizon"`
}

// AdviceRecommendation is one suggested action.
type AdviceRecommendation struct {
	Code      string `json:"code,omitempty"`
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
	Priority  string `json:"priority,omitempty"`
}

// UnmarshalJSON accepts a numeric priority.
func (r *AdviceRecommendation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code      string `json:"code"`
		Action    string `json:"action"`
		Rationale string `json:"rationale"`
		Priority  any    `json:"priority"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Code = raw.Code
	r.Action = raw.Action
	r.Rationale = raw.Rationale
	switch v := raw.Priority.(type) {
	case nil:
		r.Priority = ""
	case string:
		r.Priority = v
	default:
		r.Priority = fmt.Sprint(v)
	}
	return nil
}

// Advice is the narrative returned by the provider.
type Advice struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Provider        string                 `json:"provider"`
	Model           string                 `json:"model"`
	Summary         string                 `json:"summary"`
	RiskLevel       string                 `json:"risk_level"`
	KeyFindings     []string               `json:"key_findings"`
	Recommendations []AdviceRecommendation `json:"recommendations"`
	Disclaimer      string                 `json:"disclaimer"`
}

type adviceModelResponse struct {
	Summary         string                 `json:"summary"`
	RiskLevel       string                 `json:"risk_level"`
	KeyFindings     []string               `json:"key_findings"`
	Recommendations []AdviceRecommendation `json:"recommendations"`
	Disclaimer      string                 `json:"disclaimer"`
}

type completionRequest struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Logger       *slog.Logger
}

type completionResult struct {
	Model   string
	Content string
}

type completer func(ctx context.Context, req completionRequest) (completionResult, error)

func defaultCompleters() map[string]completer {
	return map[string]completer{
		ProviderGemini:    completeWithGemini,
		ProviderOpenAI:    completeWithOpenAI,
		ProviderAnthropic: completeWithAnthropic,
	}
}

// Advise asks the configured provider for a narrative on the current
// portfolio. The cached portfolio is used when there is one.
func (c *Core) Advise(ctx context.Context, req AdviceRequest) (*Advice, error) {
	settings, err := c.GetAISettings(ctx)
	if err != nil {
		return nil, err
	}
	req, err = mergeAdviceRequest(req, settings)
	if err != nil {
		return nil, err
	}

	p, ok := c.CachedPortfolio()
	if !ok {
		res, err := c.Portfolio(ctx)
		if err != nil {
			return nil, err
		}
		p = res.Portfolio
	}
	if p == nil || p.Aggregate == nil {
		return nil, NewError(ErrCodeValidation, "no priced holdings to analyse")
	}

	userPrompt, err := buildAdviceUserPrompt(p, req)
	if err != nil {
		return nil, WrapError(ErrCodeInternal, "build advice prompt", err)
	}
	complete, ok := c.completers[req.Provider]
	if !ok {
		return nil, NewError(ErrCodeUnsupported, "unsupported provider: "+req.Provider)
	}

	ctx, cancel := context.WithTimeout(ctx, aiRequestTimeout)
	defer cancel()
	result, err := complete(ctx, completionRequest{
		BaseURL:      req.BaseURL,
		APIKey:       req.APIKey,
		Model:        req.Model,
		SystemPrompt: adviceSystemPrompt,
		UserPrompt:   userPrompt,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, WrapError(ErrCodeUpstream, req.Provider+" request failed", err)
	}

	parsed, err := parseAdviceResponse(result.Content)
	if err != nil {
		return nil, WrapError(ErrCodeUpstream, "invalid advice response", err)
	}
	model := strings.TrimSpace(result.Model)
	if model == "" {
		model = req.Model
	}
	advice := &Advice{
		GeneratedAt:     c.now(),
		Provider:        req.Provider,
		Model:           model,
		Summary:         orDefault(parsed.Summary, "モデルから要約が返されませんでした。"),
		RiskLevel:       orDefault(strings.ToLower(parsed.RiskLevel), "unknown"),
		KeyFindings:     normalizeFindings(parsed.KeyFindings),
		Recommendations: normalizeRecommendations(parsed.Recommendations),
		Disclaimer:      orDefault(parsed.Disclaimer, "本分析は情報提供のみを目的としており、投資助言ではありません。"),
	}
	c.logger.Info("portfolio advice generated", "provider", advice.Provider, "model", advice.Model,
		"recommendations", len(advice.Recommendations))
	return advice, nil
}

func mergeAdviceRequest(req AdviceRequest, settings AISettings) (AdviceRequest, error) {
	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.APIKey == "" {
		return AdviceRequest{}, NewError(ErrCodeInvalidInput, "api_key is required")
	}
	merged := normalizeAISettings(AISettings{
		Provider:    orDefault(req.Provider, settings.Provider),
		BaseURL:     orDefault(req.BaseURL, settings.BaseURL),
		Model:       req.Model,
		RiskProfile: orDefault(req.RiskProfile, settings.RiskProfile),
		Horizon:     orDefault(req.Horizon, settings.Horizon),
	})
	// The stored model only applies to the stored provider.
	if strings.TrimSpace(req.Model) == "" && merged.Provider == settings.Provider && settings.Model != "" {
		merged.Model = settings.Model
	}
	if merged.BaseURL != "" {
		parsed, err := url.Parse(merged.BaseURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return AdviceRequest{}, NewError(ErrCodeInvalidInput, "invalid base_url: "+merged.BaseURL)
		}
	}
	return AdviceRequest{
		Provider:    merged.Provider,
		BaseURL:     merged.BaseURL,
		APIKey:      req.APIKey,
		Model:       merged.Model,
		RiskProfile: merged.RiskProfile,
		Horizon:     merged.Horizon,
	}, nil
}

type adviceHolding struct {
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	AssetType      string            `json:"asset_type"`
	Industry       string            `json:"industry,omitempty"`
	WeightPercent  float64           `json:"weight_percent"`
	ProfitLossRate analytics.Numeric `json:"profit_loss_rate"`
	Score          analytics.Score   `json:"score"`
	PER            analytics.Numeric `json:"per"`
	PBR            analytics.Numeric `json:"pbr"`
	DividendYield  analytics.Numeric `json:"dividend_yield"`
}

type advicePromptInput struct {
	RiskProfile             string                     `json:"risk_profile"`
	Horizon                 string                     `json:"horizon"`
	TotalMarketValue        float64                    `json:"total_market_value"`
	TotalProfitLossRate     analytics.Numeric          `json:"total_profit_loss_rate"`
	EstimatedAnnualDividend float64                    `json:"estimated_annual_dividend"`
	HHI                     float64                    `json:"hhi"`
	Concentration           string                     `json:"concentration"`
	Top5Ratio               float64                    `json:"top5_ratio"`
	SafetyScore             float64                    `json:"safety_score"`
	Personality             string                     `json:"personality"`
	WeightedAverages        analytics.WeightedAverages `json:"weighted_averages"`
	ByIndustry              []analytics.BreakdownEntry `json:"by_industry"`
	ByAccountType           []analytics.BreakdownEntry `json:"by_account_type"`
	Holdings                []adviceHolding            `json:"holdings"`
}

func buildAdviceUserPrompt(p *Portfolio, req AdviceRequest) (string, error) {
	agg := p.Aggregate
	input := advicePromptInput{
		RiskProfile:             req.RiskProfile,
		Horizon:                 req.Horizon,
		TotalMarketValue:        agg.TotalMarketValue,
		TotalProfitLossRate:     agg.TotalProfitLossRate,
		EstimatedAnnualDividend: agg.EstimatedAnnualDividend,
		HHI:                     agg.HHI,
		Concentration:           string(agg.Concentration),
		Top5Ratio:               agg.Top5Ratio,
		SafetyScore:             agg.SafetyScore,
		Personality:             agg.Personality.Label,
		WeightedAverages:        agg.WeightedAverages,
		ByIndustry:              agg.ByIndustry,
		ByAccountType:           agg.ByAccountType,
	}

	for _, row := range p.Stocks {
		value := rowMarketValue(row).OrZero()
		if value <= 0 {
			continue
		}
		invested := 0.0
		for _, vh := range row.Holdings {
			if vh.MarketValue.Available() {
				invested += vh.InvestmentAmount.OrZero()
			}
		}
		rate := analytics.Unavailable
		if invested > 0 {
			rate = analytics.Value((value - invested) / invested * 100).Round(2)
		}
		input.Holdings = append(input.Holdings, adviceHolding{
			Code:           row.Code,
			Name:           row.Name,
			AssetType:      string(row.AssetType),
			Industry:       row.Industry,
			WeightPercent:  analytics.Value(value / agg.TotalMarketValue * 100).Round(2).OrZero(),
			ProfitLossRate: rate,
			Score:          row.Score,
			PER:            row.PER,
			PBR:            row.PBR,
			DividendYield:  row.DividendYield,
		})
	}
	sort.SliceStable(input.Holdings, func(i, j int) bool {
		return input.Holdings[i].WeightPercent > input.Holdings[j].WeightPercent
	})
	if len(input.Holdings) > adviceMaxHoldings {
		input.Holdings = input.Holdings[:adviceMaxHoldings]
	}

	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", err
	}
	return "以下のポートフォリオを分析してください。\n" + string(payload), nil
}

func completeWithGemini(ctx context.Context, req completionRequest) (completionResult, error) {
	config, err := buildGeminiClientConfig(req.BaseURL, req.APIKey)
	if err != nil {
		return completionResult{}, err
	}
	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return completionResult{}, fmt.Errorf("create gemini client failed: %w", err)
	}
	response, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.UserPrompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		},
		Temperature:      genai.Ptr(float32(0.2)),
		MaxOutputTokens:  aiMaxOutputTokens,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return completionResult{}, fmt.Errorf("gemini generate content failed: %w", err)
	}
	content := strings.TrimSpace(response.Text())
	if content == "" {
		return completionResult{}, errors.New("ai response content is empty")
	}
	return completionResult{Model: strings.TrimSpace(response.ModelVersion), Content: content}, nil
}

// buildGeminiClientConfig splits a base URL such as
// https://host/v1beta into the SDK's base URL and API version.
func buildGeminiClientConfig(baseURL, apiKey string) (*genai.ClientConfig, error) {
	endpoint := strings.TrimSpace(baseURL)
	if endpoint == "" {
		endpoint = defaultGeminiBaseURL
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid gemini endpoint: %s", endpoint)
	}
	version := ""
	path := strings.Trim(parsed.Path, "/")
	if path != "" {
		segments := strings.Split(path, "/")
		last := segments[len(segments)-1]
		if strings.HasPrefix(last, "v1") {
			version = last
			segments = segments[:len(segments)-1]
		}
		path = strings.Join(segments, "/")
	}
	root := parsed.Scheme + "://" + parsed.Host + "/"
	if path != "" {
		root += path + "/"
	}
	return &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    root,
			APIVersion: version,
		},
	}, nil
}

func completeWithOpenAI(ctx context.Context, req completionRequest) (completionResult, error) {
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(req.APIKey),
		openaioption.WithMaxRetries(1),
	}
	if req.BaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(req.BaseURL+"/"))
	}
	client := openai.NewClient(opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return completionResult{}, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return completionResult{}, errors.New("ai response has no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return completionResult{}, errors.New("ai response content is empty")
	}
	return completionResult{Model: resp.Model, Content: content}, nil
}

func completeWithAnthropic(ctx context.Context, req completionRequest) (completionResult, error) {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(req.APIKey),
		anthropicoption.WithMaxRetries(1),
	}
	if req.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(req.BaseURL+"/"))
	}
	client := anthropic.NewClient(opts...)
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: aiMaxOutputTokens,
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropic.Float(0.2),
	})
	if err != nil {
		return completionResult{}, fmt.Errorf("anthropic messages failed: %w", err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return completionResult{}, errors.New("ai response content is empty")
	}
	return completionResult{Model: string(msg.Model), Content: content}, nil
}

func parseAdviceResponse(content string) (*adviceModelResponse, error) {
	cleaned := cleanupModelJSON(content)
	var parsed adviceModelResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return &parsed, nil
}

// cleanupModelJSON strips code fences and any text around the outermost object.
func cleanupModelJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		lines := strings.Split(trimmed, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[:len(lines)-1]
			}
			trimmed = strings.Join(lines, "\n")
		}
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		trimmed = trimmed[start : end+1]
	}
	return strings.TrimSpace(trimmed)
}

func normalizeFindings(findings []string) []string {
	result := make([]string, 0, len(findings))
	for _, item := range findings {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func normalizeRecommendations(items []AdviceRecommendation) []AdviceRecommendation {
	result := make([]AdviceRecommendation, 0, len(items))
	for _, item := range items {
		result = append(result, AdviceRecommendation{
			Code:      strings.ToUpper(strings.TrimSpace(item.Code)),
			Action:    orDefault(strings.ToLower(item.Action), "hold"),
			Rationale: orDefault(item.Rationale, "理由は示されませんでした。"),
			Priority:  strings.TrimSpace(item.Priority),
		})
	}
	return result
}

func orDefault(v, fallback string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return fallback
}
