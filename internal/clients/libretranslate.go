package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LibreTranslateClient handles communication with a LibreTranslate instance.
// Open source, self-hosted, cheapest cost tier.
type LibreTranslateClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Entry
	languages  map[string]bool
	perUnit    decimal.Decimal
	currency   string
}

type libreTranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

type libreTranslateResponse struct {
	TranslatedText string `json:"translatedText"`
}

type libreDetectRequest struct {
	Q      string `json:"q"`
	APIKey string `json:"api_key,omitempty"`
}

type libreDetection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// NewLibreTranslateClient creates a new LibreTranslate client
func NewLibreTranslateClient(baseURL, apiKey, currency string, logger *logrus.Entry) *LibreTranslateClient {
	return &LibreTranslateClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: newHTTPClient(30 * time.Second),
		logger:     logger,
		languages: languageSet("en", "de", "nl", "es", "fr", "it", "pt", "ru",
			"pl", "uk", "cs", "zh", "ja", "ko", "hi", "ar", "he", "tr", "vi", "id", "th"),
		perUnit:  decimal.RequireFromString("0.0000020"),
		currency: currency,
	}
}

func (c *LibreTranslateClient) Name() ProviderName { return ProviderLibreTranslate }

func (c *LibreTranslateClient) Model() string { return "argos-opus-mt" }

func (c *LibreTranslateClient) IsConfigured() bool { return c.baseURL != "" }

func (c *LibreTranslateClient) SupportsLanguagePair(sourceLang, targetLang string) bool {
	return pairSupported(c.languages, sourceLang, targetLang)
}

func (c *LibreTranslateClient) CostPerUnit() decimal.Decimal { return c.perUnit }

func (c *LibreTranslateClient) EstimateCost(text, targetLang string) CostEstimate {
	return estimate(text, c.perUnit, c.currency)
}

// Translate translates text from source to target language
func (c *LibreTranslateClient) Translate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	sourceLang := req.SourceLang
	if sourceLang == "" || sourceLang == "auto" {
		detected, _, err := c.DetectLanguage(ctx, req.Text)
		if err != nil {
			return nil, err
		}
		sourceLang = detected
	}

	body, err := json.Marshal(libreTranslateRequest{
		Q:      req.Text,
		Source: sourceLang,
		Target: req.TargetLang,
		Format: "text",
		APIKey: c.apiKey,
	})
	if err != nil {
		return nil, FatalError(ProviderLibreTranslate, fmt.Errorf("marshal request: %w", err))
	}

	var result libreTranslateResponse
	if err := c.post(ctx, "/translate", body, &result); err != nil {
		return nil, err
	}

	return &Result{
		TranslatedText: result.TranslatedText,
		SourceLang:     sourceLang,
		TargetLang:     req.TargetLang,
		Provider:       ProviderLibreTranslate,
		Model:          c.Model(),
		Confidence:     0.85,
		Latency:        time.Since(start),
	}, nil
}

// DetectLanguage detects the language of the given text
func (c *LibreTranslateClient) DetectLanguage(ctx context.Context, text string) (string, float64, error) {
	body, err := json.Marshal(libreDetectRequest{Q: text, APIKey: c.apiKey})
	if err != nil {
		return "", 0, FatalError(ProviderLibreTranslate, fmt.Errorf("marshal request: %w", err))
	}

	// LibreTranslate returns an array of detections, best first
	var detections []libreDetection
	if err := c.post(ctx, "/detect", body, &detections); err != nil {
		return "", 0, err
	}
	if len(detections) == 0 {
		return "", 0, TransientError(ProviderLibreTranslate, fmt.Errorf("no language detected"))
	}

	return detections[0].Language, detections[0].Confidence / 100, nil
}

// HealthCheck checks if the LibreTranslate service is reachable
func (c *LibreTranslateClient) HealthCheck(ctx context.Context) ProviderHealth {
	health := ProviderHealth{Provider: ProviderLibreTranslate, LastChecked: time.Now()}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/languages", nil)
	if err != nil {
		health.Status = StatusUnhealthy
		health.LastError = err.Error()
		return health
	}

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
	case resp.StatusCode == http.StatusOK:
		health.Status = StatusDegraded
		health.Available = true
	default:
		health.Status = StatusUnhealthy
		health.LastError = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return health
}

func (c *LibreTranslateClient) post(ctx context.Context, path string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return FatalError(ProviderLibreTranslate, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TransientError(ProviderLibreTranslate, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return classifyStatus(ProviderLibreTranslate, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return TransientError(ProviderLibreTranslate, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
