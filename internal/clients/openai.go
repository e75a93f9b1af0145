package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OpenAIClient translates via an OpenAI-compatible chat completions API.
// Premium tier: best quality for context-heavy and technical text.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *logrus.Entry
	languages  map[string]bool
	perUnit    decimal.Decimal
	currency   string
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a new OpenAI-compatible LLM translation client
func NewOpenAIClient(baseURL, apiKey, model, currency string, logger *logrus.Entry) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: newHTTPClient(60 * time.Second),
		logger:     logger,
		languages: languageSet("en", "de", "nl", "sv", "es", "fr", "it", "pt", "ro",
			"ru", "pl", "uk", "cs", "zh", "ja", "ko", "hi", "bn", "ar", "he", "tr",
			"vi", "id", "th"),
		perUnit:  decimal.RequireFromString("0.0000150"),
		currency: currency,
	}
}

func (c *OpenAIClient) Name() ProviderName { return ProviderOpenAI }

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) IsConfigured() bool { return c.apiKey != "" }

func (c *OpenAIClient) SupportsLanguagePair(sourceLang, targetLang string) bool {
	return pairSupported(c.languages, sourceLang, targetLang)
}

func (c *OpenAIClient) CostPerUnit() decimal.Decimal { return c.perUnit }

func (c *OpenAIClient) EstimateCost(text, targetLang string) CostEstimate {
	return estimate(text, c.perUnit, c.currency)
}

// Translate translates text using a translation prompt. Conversation context
// and extracted technical terms are injected into the system prompt so the
// model preserves terminology.
func (c *OpenAIClient) Translate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	system := fmt.Sprintf(
		"You are a translation engine. Translate the user's message to %s. "+
			"Reply with the translation only, no commentary.", req.TargetLang)
	if req.SourceLang != "" && req.SourceLang != "auto" {
		system = fmt.Sprintf(
			"You are a translation engine. Translate the user's message from %s to %s. "+
				"Reply with the translation only, no commentary.", req.SourceLang, req.TargetLang)
	}
	if req.Context != "" {
		system += "\n\nConversation context (do not translate, use for disambiguation):\n" + req.Context
	}

	var completion chatCompletionResponse
	if err := c.post(ctx, "/chat/completions", chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Text},
		},
	}, &completion); err != nil {
		return nil, err
	}

	if len(completion.Choices) == 0 {
		return nil, TransientError(ProviderOpenAI, fmt.Errorf("empty completion"))
	}

	sourceLang := req.SourceLang
	if sourceLang == "" || sourceLang == "auto" {
		// The model resolved the source implicitly; report best effort.
		if detected, _, err := c.DetectLanguage(ctx, req.Text); err == nil {
			sourceLang = detected
		}
	}

	return &Result{
		TranslatedText: strings.TrimSpace(completion.Choices[0].Message.Content),
		SourceLang:     sourceLang,
		TargetLang:     req.TargetLang,
		Provider:       ProviderOpenAI,
		Model:          c.model,
		Confidence:     0.95,
		TokensUsed:     completion.Usage.TotalTokens,
		Latency:        time.Since(start),
	}, nil
}

// DetectLanguage asks the model for the ISO 639-1 code of the text.
func (c *OpenAIClient) DetectLanguage(ctx context.Context, text string) (string, float64, error) {
	var completion chatCompletionResponse
	if err := c.post(ctx, "/chat/completions", chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "Reply with only the ISO 639-1 code of the language of the user's message."},
			{Role: "user", Content: text},
		},
	}, &completion); err != nil {
		return "", 0, err
	}
	if len(completion.Choices) == 0 {
		return "", 0, TransientError(ProviderOpenAI, fmt.Errorf("empty completion"))
	}

	code := strings.ToLower(strings.TrimSpace(completion.Choices[0].Message.Content))
	if len(code) != 2 {
		return "", 0, TransientError(ProviderOpenAI, fmt.Errorf("unexpected detection output %q", code))
	}
	return code, 0.9, nil
}

// HealthCheck probes the models endpoint
func (c *OpenAIClient) HealthCheck(ctx context.Context) ProviderHealth {
	health := ProviderHealth{Provider: ProviderOpenAI, LastChecked: time.Now()}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		health.Status = StatusUnhealthy
		health.LastError = err.Error()
		return health
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		health.Status = StatusUnhealthy
		health.LastError = err.Error()
		return health
	}
	defer resp.Body.Close()

	health.LatencyMs = time.Since(start).Milliseconds()
	switch {
	case resp.StatusCode == http.StatusOK && health.LatencyMs < 3000:
		health.Status = StatusHealthy
		health.Available = true
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusTooManyRequests:
		health.Status = StatusDegraded
		health.Available = true
	default:
		health.Status = StatusUnhealthy
		health.LastError = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return health
}

func (c *OpenAIClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return FatalError(ProviderOpenAI, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return FatalError(ProviderOpenAI, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TransientError(ProviderOpenAI, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return classifyStatus(ProviderOpenAI, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return TransientError(ProviderOpenAI, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
