package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderName identifies a translation provider
type ProviderName string

const (
	ProviderOpenAI         ProviderName = "openai"
	ProviderDeepL          ProviderName = "deepl"
	ProviderLibreTranslate ProviderName = "libretranslate"
	ProviderGoogle         ProviderName = "google"
)

// ErrorKind separates failures that are worth retrying elsewhere from
// failures that indicate a configuration problem.
type ErrorKind int

const (
	// KindTransient covers timeouts, 5xx and rate limits. These count
	// against the provider's circuit breaker and trigger fallback.
	KindTransient ErrorKind = iota
	// KindFatal covers bad credentials and malformed requests. The provider
	// is skipped for the current request but not circuit-opened.
	KindFatal
)

// ProviderError wraps a failed provider call with its retry classification.
type ProviderError struct {
	Provider ProviderName
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TransientError builds a retryable provider error.
func TransientError(provider ProviderName, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindTransient, Err: err}
}

// FatalError builds a non-retryable provider error.
func FatalError(provider ProviderName, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: KindFatal, Err: err}
}

// IsFatal reports whether err is a fatal provider error.
func IsFatal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindFatal
}

// classifyStatus maps an HTTP status to an error kind: auth and
// malformed-request responses are fatal, everything else retryable.
func classifyStatus(provider ProviderName, status int, body string) *ProviderError {
	err := fmt.Errorf("api returned status %d: %s", status, body)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return FatalError(provider, err)
	default:
		return TransientError(provider, err)
	}
}

// HealthStatus is the coarse availability grade reported by a health check.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ProviderHealth is a point-in-time health snapshot for a provider.
type ProviderHealth struct {
	Provider    ProviderName `json:"provider"`
	Status      HealthStatus `json:"status"`
	Available   bool         `json:"available"`
	LastChecked time.Time    `json:"last_checked"`
	LastError   string       `json:"last_error,omitempty"`
	LatencyMs   int64        `json:"latency_ms"`
}

// Request is the provider-facing translation request. Context is already
// assembled prompt-ready text from the conversation buffer.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Context    string
}

// Result represents the result of a translation.
type Result struct {
	TranslatedText string        `json:"translated_text"`
	SourceLang     string        `json:"source_lang"`
	TargetLang     string        `json:"target_lang"`
	Provider       ProviderName  `json:"provider"`
	Model          string        `json:"model"`
	Confidence     float64       `json:"confidence"`
	TokensUsed     int64         `json:"tokens_used"`
	Latency        time.Duration `json:"latency"`
}

// CostEstimate is a pre-call price quote for a translation.
type CostEstimate struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Units    int64           `json:"units"`
}

// TranslationProvider defines the interface that all translation providers
// must implement. Adapters wrap authentication and request/response shaping;
// they have no side effects beyond the outbound network call.
type TranslationProvider interface {
	// Name returns the provider's identifier
	Name() ProviderName

	// Model returns the model identifier reported in responses
	Model() string

	// IsConfigured returns true if the provider has credentials/endpoint set
	IsConfigured() bool

	// SupportsLanguagePair checks the provider's static language set
	SupportsLanguagePair(sourceLang, targetLang string) bool

	// CostPerUnit returns the price per source character
	CostPerUnit() decimal.Decimal

	// EstimateCost quotes the cost of translating text before calling out
	EstimateCost(text, targetLang string) CostEstimate

	// Translate translates text from source to target language
	Translate(ctx context.Context, req Request) (*Result, error)

	// DetectLanguage detects the language of the given text
	DetectLanguage(ctx context.Context, text string) (string, float64, error)

	// HealthCheck probes the provider service
	HealthCheck(ctx context.Context) ProviderHealth
}

// estimate prices a text at the given per-character rate.
func estimate(text string, perUnit decimal.Decimal, currency string) CostEstimate {
	units := int64(len([]rune(text)))
	return CostEstimate{
		Amount:   perUnit.Mul(decimal.NewFromInt(units)),
		Currency: currency,
		Units:    units,
	}
}

// languageSet builds a lookup set from codes.
func languageSet(codes ...string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

func pairSupported(set map[string]bool, sourceLang, targetLang string) bool {
	// Unresolved source is accepted; the adapter detects before translating.
	if sourceLang != "" && sourceLang != "auto" && !set[sourceLang] {
		return false
	}
	return set[targetLang]
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
