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

// GoogleTranslateClient handles communication with the Google Translate v2 API.
// Widest language coverage; used as the coverage backstop.
type GoogleTranslateClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
	languages  map[string]bool
	perUnit    decimal.Decimal
	currency   string
}

type googleTranslateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
}

type googleDetectResponse struct {
	Data struct {
		Detections [][]struct {
			Language   string  `json:"language"`
			Confidence float64 `json:"confidence"`
		} `json:"detections"`
	} `json:"data"`
}

// NewGoogleTranslateClient creates a new Google Translate client
func NewGoogleTranslateClient(apiKey, currency string, logger *logrus.Entry) *GoogleTranslateClient {
	return &GoogleTranslateClient{
		apiKey:     apiKey,
		baseURL:    "https://translation.googleapis.com/language/translate/v2",
		httpClient: newHTTPClient(30 * time.Second),
		logger:     logger,
		languages: languageSet("en", "de", "nl", "sv", "es", "fr", "it", "pt", "ro",
			"ru", "pl", "uk", "cs", "zh", "ja", "ko", "hi", "bn", "ar", "he", "tr",
			"vi", "id", "th"),
		perUnit:  decimal.RequireFromString("0.0000200"),
		currency: currency,
	}
}

func (c *GoogleTranslateClient) Name() ProviderName { return ProviderGoogle }

func (c *GoogleTranslateClient) Model() string { return "nmt" }

func (c *GoogleTranslateClient) IsConfigured() bool { return c.apiKey != "" }

func (c *GoogleTranslateClient) SupportsLanguagePair(sourceLang, targetLang string) bool {
	return pairSupported(c.languages, sourceLang, targetLang)
}

func (c *GoogleTranslateClient) CostPerUnit() decimal.Decimal { return c.perUnit }

func (c *GoogleTranslateClient) EstimateCost(text, targetLang string) CostEstimate {
	return estimate(text, c.perUnit, c.currency)
}

// Translate translates text from source to target language
func (c *GoogleTranslateClient) Translate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	form := url.Values{}
	form.Set("q", req.Text)
	form.Set("target", req.TargetLang)
	form.Set("format", "text")
	if req.SourceLang != "" && req.SourceLang != "auto" {
		form.Set("source", req.SourceLang)
	}

	var result googleTranslateResponse
	if err := c.postForm(ctx, "", form, &result); err != nil {
		return nil, err
	}
	if len(result.Data.Translations) == 0 {
		return nil, TransientError(ProviderGoogle, fmt.Errorf("empty translation response"))
	}

	tr := result.Data.Translations[0]
	sourceLang := req.SourceLang
	if sourceLang == "" || sourceLang == "auto" {
		sourceLang = tr.DetectedSourceLanguage
	}

	return &Result{
		TranslatedText: tr.TranslatedText,
		SourceLang:     sourceLang,
		TargetLang:     req.TargetLang,
		Provider:       ProviderGoogle,
		Model:          c.Model(),
		Confidence:     0.9,
		Latency:        time.Since(start),
	}, nil
}

// DetectLanguage detects the language of the given text
func (c *GoogleTranslateClient) DetectLanguage(ctx context.Context, text string) (string, float64, error) {
	form := url.Values{}
	form.Set("q", text)

	var result googleDetectResponse
	if err := c.postForm(ctx, "/detect", form, &result); err != nil {
		return "", 0, err
	}
	if len(result.Data.Detections) == 0 || len(result.Data.Detections[0]) == 0 {
		return "", 0, TransientError(ProviderGoogle, fmt.Errorf("no language detected"))
	}

	detection := result.Data.Detections[0][0]
	return detection.Language, detection.Confidence, nil
}

// HealthCheck probes the languages endpoint
func (c *GoogleTranslateClient) HealthCheck(ctx context.Context) ProviderHealth {
	health := ProviderHealth{Provider: ProviderGoogle, LastChecked: time.Now()}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/languages?key="+url.QueryEscape(c.apiKey), nil)
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
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusTooManyRequests:
		health.Status = StatusDegraded
		health.Available = true
	default:
		health.Status = StatusUnhealthy
		health.LastError = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return health
}

func (c *GoogleTranslateClient) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	endpoint := c.baseURL + path + "?key=" + url.QueryEscape(c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return FatalError(ProviderGoogle, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TransientError(ProviderGoogle, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return classifyStatus(ProviderGoogle, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return TransientError(ProviderGoogle, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
