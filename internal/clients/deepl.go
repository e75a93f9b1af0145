package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DeepLClient handles communication with the DeepL API.
// Strong on European language pairs; balanced cost tier.
type DeepLClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Entry
	languages  map[string]bool
	perUnit    decimal.Decimal
	currency   string
}

type deepLResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// NewDeepLClient creates a new DeepL client
func NewDeepLClient(baseURL, apiKey, currency string, logger *logrus.Entry) *DeepLClient {
	return &DeepLClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: newHTTPClient(30 * time.Second),
		logger:     logger,
		languages: languageSet("en", "de", "nl", "sv", "es", "fr", "it", "pt", "ro",
			"ru", "pl", "uk", "cs", "zh", "ja", "ko", "tr", "id"),
		perUnit:  decimal.RequireFromString("0.0000250"),
		currency: currency,
	}
}

func (c *DeepLClient) Name() ProviderName { return ProviderDeepL }

func (c *DeepLClient) Model() string { return "deepl-v2" }

func (c *DeepLClient) IsConfigured() bool { return c.apiKey != "" }

func (c *DeepLClient) SupportsLanguagePair(sourceLang, targetLang string) bool {
	return pairSupported(c.languages, sourceLang, targetLang)
}

func (c *DeepLClient) CostPerUnit() decimal.Decimal { return c.perUnit }

func (c *DeepLClient) EstimateCost(text, targetLang string) CostEstimate {
	return estimate(text, c.perUnit, c.currency)
}

// Translate translates text from source to target language
func (c *DeepLClient) Translate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	form := url.Values{}
	form.Set("text", req.Text)
	form.Set("target_lang", strings.ToUpper(req.TargetLang))
	if req.SourceLang != "" && req.SourceLang != "auto" {
		form.Set("source_lang", strings.ToUpper(req.SourceLang))
	}
	if req.Context != "" {
		form.Set("context", req.Context)
	}

	var result deepLResponse
	if err := c.postForm(ctx, "/translate", form, &result); err != nil {
		return nil, err
	}
	if len(result.Translations) == 0 {
		return nil, TransientError(ProviderDeepL, fmt.Errorf("empty translation response"))
	}

	tr := result.Translations[0]
	sourceLang := req.SourceLang
	if sourceLang == "" || sourceLang == "auto" {
		sourceLang = strings.ToLower(tr.DetectedSourceLanguage)
	}

	return &Result{
		TranslatedText: tr.Text,
		SourceLang:     sourceLang,
		TargetLang:     req.TargetLang,
		Provider:       ProviderDeepL,
		Model:          c.Model(),
		Confidence:     0.92,
		Latency:        time.Since(start),
	}, nil
}

// DetectLanguage runs a minimal translation to read the detected source code.
func (c *DeepLClient) DetectLanguage(ctx context.Context, text string) (string, float64, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", "EN")

	var result deepLResponse
	if err := c.postForm(ctx, "/translate", form, &result); err != nil {
		return "", 0, err
	}
	if len(result.Translations) == 0 {
		return "", 0, TransientError(ProviderDeepL, fmt.Errorf("empty detection response"))
	}
	return strings.ToLower(result.Translations[0].DetectedSourceLanguage), 0.9, nil
}

// HealthCheck probes the usage endpoint
func (c *DeepLClient) HealthCheck(ctx context.Context) ProviderHealth {
	health := ProviderHealth{Provider: ProviderDeepL, LastChecked: time.Now()}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/usage", nil)
	if err != nil {
		health.Status = StatusUnhealthy
		health.LastError = err.Error()
		return health
	}
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		health.Status = StatusUnhealthy
		health.LastError = err.Error()
		return health
	}
	defer resp.Body.Close()

	health.LatencyMs = time.Since(start).Milliseconds()
	switch {
	case resp.StatusCode == http.StatusOK && health.LatencyMs < 2000:
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

func (c *DeepLClient) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return FatalError(ProviderDeepL, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TransientError(ProviderDeepL, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return classifyStatus(ProviderDeepL, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return TransientError(ProviderDeepL, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
