package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/billing"
	"github.com/tesseract-hub/translation-engine/internal/breaker"
	"github.com/tesseract-hub/translation-engine/internal/cache"
	"github.com/tesseract-hub/translation-engine/internal/clients"
	"github.com/tesseract-hub/translation-engine/internal/conversation"
	"github.com/tesseract-hub/translation-engine/internal/health"
	"github.com/tesseract-hub/translation-engine/internal/metrics"
	"github.com/tesseract-hub/translation-engine/internal/models"
	"github.com/tesseract-hub/translation-engine/internal/router"
	"github.com/tesseract-hub/translation-engine/internal/usage"
)

var (
	// ErrUnsupportedLanguage means the target language is not a concrete,
	// known ISO 639-1 code.
	ErrUnsupportedLanguage = errors.New("unsupported target language")
	// ErrTranslationUnavailable means no configured provider supports the
	// requested language pair.
	ErrTranslationUnavailable = errors.New("translation unavailable")
	// ErrDetectionFailed means no provider could identify the language.
	ErrDetectionFailed = errors.New("language detection failed")
	// ErrBatchTooLarge means the batch exceeds the configured item limit.
	ErrBatchTooLarge = errors.New("batch too large")
)

// Config carries the engine's request-level settings.
type Config struct {
	// RequestTimeout is the aggregate deadline for one translation,
	// including detection and all fallback attempts.
	RequestTimeout time.Duration
	CacheEnabled   bool
	Currency       string
	// DefaultSourceLang is assumed when a request omits the source language.
	DefaultSourceLang string
	MaxBatchItems     int
}

// Cache is the translation cache seam. *cache.TranslationCache satisfies it;
// tests substitute an in-memory implementation.
type Cache interface {
	Get(ctx context.Context, workspaceID, sourceHash string) *cache.Entry
	Set(ctx context.Context, workspaceID, sourceHash, sourceText, contextDigest string, entry cache.Entry) error
	Stale(ctx context.Context, sourceHash string) *cache.Entry
}

// Engine orchestrates a translation end to end: context enrichment, cache
// lookup, provider routing with fallback, billing, and usage tracking.
type Engine struct {
	router       *router.Router
	cache        Cache
	conversation *conversation.Manager
	ledger       *billing.Ledger
	tracker      *usage.Tracker
	poller       *health.Poller
	breakers     *breaker.Registry
	config       Config
	logger       *logrus.Entry
}

// New wires the engine. translationCache may be nil when caching is disabled.
func New(rt *router.Router, translationCache Cache, conv *conversation.Manager,
	ledger *billing.Ledger, tracker *usage.Tracker, poller *health.Poller,
	breakers *breaker.Registry, config Config, logger *logrus.Entry) *Engine {
	return &Engine{
		router:       rt,
		cache:        translationCache,
		conversation: conv,
		ledger:       ledger,
		tracker:      tracker,
		poller:       poller,
		breakers:     breakers,
		config:       config,
		logger:       logger,
	}
}

// Translate runs one translation request for a workspace. requestID doubles
// as the billing idempotency key: retrying the same request never debits
// twice.
func (e *Engine) Translate(ctx context.Context, workspaceID, userID, requestID string, req *models.TranslationRequest) (*models.TranslationResponse, error) {
	start := time.Now()

	timeout := e.config.RequestTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	targetLang := strings.ToLower(req.TargetLang)
	if targetLang == "" || targetLang == "auto" || models.LanguageFamily(targetLang) == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.TargetLang)
	}

	sourceLang := strings.ToLower(req.SourceLang)
	if sourceLang == "" {
		sourceLang = strings.ToLower(e.config.DefaultSourceLang)
	}
	if sourceLang == "" || sourceLang == "auto" {
		detected, err := e.DetectLanguage(ctx, req.Text)
		if err != nil {
			return nil, err
		}
		sourceLang = detected.Language
	}

	// Same-language requests are a free no-op.
	if sourceLang == targetLang {
		return &models.TranslationResponse{
			TranslatedText: req.Text,
			OriginalText:   req.Text,
			SourceLang:     sourceLang,
			TargetLang:     targetLang,
			Confidence:     1.0,
			Cost:           models.Cost{Amount: decimal.Zero, Currency: e.config.Currency},
			Metadata: models.ResponseMetadata{
				DurationMs: time.Since(start).Milliseconds(),
				RequestID:  requestID,
			},
		}, nil
	}

	// Enrich with conversation context before hashing so identical requests
	// in the same conversational state share a cache entry.
	translationContext := req.Context
	if req.ChannelID != "" {
		e.conversation.AddMessage(req.ChannelID, userID, req.Text)
		if channelContext := e.conversation.GetContext(req.ChannelID); channelContext != "" {
			if translationContext != "" {
				translationContext += "\n\n"
			}
			translationContext += channelContext
		}
	}

	contextDigest := models.ContextDigest(translationContext)
	sourceHash := models.CacheKey(req.Text, sourceLang, targetLang, contextDigest)

	if e.cacheEnabled() {
		if entry := e.cache.Get(ctx, workspaceID, sourceHash); entry != nil {
			metrics.CacheRequests.WithLabelValues("hit").Inc()
			e.trackUsage(workspaceID, userID, req, entry.Provider, entry.Model, sourceLang, targetLang,
				decimal.Zero, 0, time.Since(start), true)
			return e.cachedResponse(req.Text, entry, requestID, start, false), nil
		}
		metrics.CacheRequests.WithLabelValues("miss").Inc()
	}

	routeReq := router.Request{
		Text:        req.Text,
		SourceLang:  sourceLang,
		TargetLang:  targetLang,
		Context:     translationContext,
		QualityTier: req.QualityTier,
		MaxCost:     req.MaxCost,
	}

	// Advisory balance check before spending provider money; the debit
	// itself re-validates atomically.
	selected, err := e.router.SelectProvider(routeReq)
	if err == nil {
		estimate := selected.EstimateCost(req.Text, targetLang)
		ok, checkErr := e.ledger.CheckBalance(ctx, workspaceID, estimate.Amount)
		if checkErr != nil {
			return nil, checkErr
		}
		if !ok {
			credits, _ := e.ledger.GetCredits(ctx, workspaceID)
			if credits == nil || !credits.AutoRecharge {
				return nil, billing.ErrInsufficientCredits
			}
		}
	}

	result, err := e.router.TranslateWithFallback(ctx, routeReq)
	if err != nil {
		if errors.Is(err, router.ErrNoProviders) && !e.pairSupported(sourceLang, targetLang) {
			return nil, fmt.Errorf("%w: no provider supports %s->%s", ErrTranslationUnavailable, sourceLang, targetLang)
		}
		return e.degraded(ctx, req.Text, sourceLang, targetLang, sourceHash, requestID, start, err), nil
	}

	metrics.TranslationsTotal.WithLabelValues(string(result.Provider), "success").Inc()
	metrics.ProviderLatency.WithLabelValues(string(result.Provider)).Observe(result.Latency.Seconds())

	cost := e.costFor(result, req.Text, targetLang)
	if cost.Amount.IsPositive() {
		description := fmt.Sprintf("translation %s-%s via %s", sourceLang, targetLang, result.Provider)
		if _, err := e.ledger.DeductCredits(ctx, workspaceID, cost.Amount, description, requestID); err != nil {
			return nil, err
		}
		metrics.CreditsDebited.Add(cost.Amount.InexactFloat64())
	}

	if e.cacheEnabled() {
		entry := cache.Entry{
			TranslatedText: result.TranslatedText,
			SourceLang:     result.SourceLang,
			TargetLang:     result.TargetLang,
			Provider:       string(result.Provider),
			Model:          result.Model,
			Confidence:     result.Confidence,
			CostAmount:     cost.Amount,
			Currency:       cost.Currency,
		}
		if err := e.cache.Set(ctx, workspaceID, sourceHash, req.Text, contextDigest, entry); err != nil {
			e.logger.WithError(err).Debug("Failed to cache translation")
		}
	}

	e.trackUsage(workspaceID, userID, req, string(result.Provider), result.Model, sourceLang, targetLang,
		cost.Amount, result.TokensUsed, time.Since(start), false)

	return &models.TranslationResponse{
		TranslatedText: result.TranslatedText,
		OriginalText:   req.Text,
		SourceLang:     result.SourceLang,
		TargetLang:     result.TargetLang,
		Confidence:     result.Confidence,
		Provider:       string(result.Provider),
		Model:          result.Model,
		Cost:           cost,
		Metadata: models.ResponseMetadata{
			DurationMs: time.Since(start).Milliseconds(),
			RequestID:  requestID,
		},
	}, nil
}

// degraded serves a stale cache entry when every provider is down, or echoes
// the original text when none exists. No charge; the response is flagged so
// callers can warn their users. Never a hard failure: a broken translation
// backend must not break the surrounding conversation.
func (e *Engine) degraded(ctx context.Context, text, sourceLang, targetLang, sourceHash, requestID string, start time.Time, cause error) *models.TranslationResponse {
	metrics.DegradedResponses.Inc()

	if e.cacheEnabled() {
		// Lookups must survive an exceeded request deadline.
		staleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if entry := e.cache.Stale(staleCtx, sourceHash); entry != nil {
			e.logger.WithError(cause).Warn("Serving stale cache entry in degraded mode")
			return e.cachedResponse(text, entry, requestID, start, true)
		}
	}

	e.logger.WithError(cause).Warn("All providers failed, echoing original text")
	metrics.TranslationsTotal.WithLabelValues("none", "degraded").Inc()
	return &models.TranslationResponse{
		TranslatedText: text,
		OriginalText:   text,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
		Cost:           models.Cost{Amount: decimal.Zero, Currency: e.config.Currency},
		Metadata: models.ResponseMetadata{
			DurationMs: time.Since(start).Milliseconds(),
			RequestID:  requestID,
			Degraded:   true,
		},
	}
}

func (e *Engine) pairSupported(sourceLang, targetLang string) bool {
	for _, provider := range e.router.Providers() {
		if provider.IsConfigured() && provider.SupportsLanguagePair(sourceLang, targetLang) {
			return true
		}
	}
	return false
}

func (e *Engine) cachedResponse(originalText string, entry *cache.Entry, requestID string, start time.Time, degraded bool) *models.TranslationResponse {
	return &models.TranslationResponse{
		TranslatedText: entry.TranslatedText,
		OriginalText:   originalText,
		SourceLang:     entry.SourceLang,
		TargetLang:     entry.TargetLang,
		Confidence:     entry.Confidence,
		Provider:       entry.Provider,
		Model:          entry.Model,
		Cost:           models.Cost{Amount: decimal.Zero, Currency: e.config.Currency},
		Metadata: models.ResponseMetadata{
			DurationMs: time.Since(start).Milliseconds(),
			CacheHit:   true,
			RequestID:  requestID,
			Degraded:   degraded,
		},
	}
}

// DetectLanguage asks providers to identify the text's language, walking
// them in registration order until one answers.
func (e *Engine) DetectLanguage(ctx context.Context, text string) (*models.DetectLanguageResponse, error) {
	var lastErr error
	for _, provider := range e.router.Providers() {
		if !provider.IsConfigured() {
			continue
		}
		if e.breakers.Get(provider.Name()).Open() {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		code, confidence, err := provider.DetectLanguage(callCtx, text)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		return &models.DetectLanguageResponse{Language: code, Confidence: confidence}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, lastErr)
	}
	return nil, ErrDetectionFailed
}

// TranslateBatch translates each item independently, sharing the cache and
// the billing path with single translations. Per-item failures do not abort
// the batch.
func (e *Engine) TranslateBatch(ctx context.Context, workspaceID, userID, requestID string, req *models.BatchTranslationRequest) (*models.BatchTranslationResponse, error) {
	if e.config.MaxBatchItems > 0 && len(req.Items) > e.config.MaxBatchItems {
		return nil, fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, len(req.Items), e.config.MaxBatchItems)
	}

	resp := &models.BatchTranslationResponse{
		Items:      make([]models.BatchResultItem, 0, len(req.Items)),
		TotalCount: len(req.Items),
		TargetLang: req.TargetLang,
	}

	for i, item := range req.Items {
		itemReq := &models.TranslationRequest{
			Text:       item.Text,
			SourceLang: req.SourceLang,
			TargetLang: req.TargetLang,
		}
		itemID := item.ID
		if itemID == "" {
			itemID = fmt.Sprintf("%d", i)
		}

		translated, err := e.Translate(ctx, workspaceID, userID,
			fmt.Sprintf("%s-%s", requestID, itemID), itemReq)
		if err != nil {
			resp.Items = append(resp.Items, models.BatchResultItem{
				ID:           itemID,
				OriginalText: item.Text,
				Error:        err.Error(),
			})
			continue
		}

		if translated.Metadata.CacheHit {
			resp.CachedCount++
		}
		resp.Items = append(resp.Items, models.BatchResultItem{
			ID:             itemID,
			OriginalText:   item.Text,
			TranslatedText: translated.TranslatedText,
			SourceLang:     translated.SourceLang,
			Cached:         translated.Metadata.CacheHit,
		})
	}

	return resp, nil
}

// ProviderStatus combines the latest health snapshot with circuit state.
type ProviderStatus struct {
	Health  clients.ProviderHealth `json:"health"`
	Circuit breaker.Snapshot       `json:"circuit"`
}

// ProviderStatuses reports every configured provider for the ops endpoint,
// refreshing the breaker-state gauges as a side effect.
func (e *Engine) ProviderStatuses() []ProviderStatus {
	healths := e.poller.Snapshot()
	statuses := make([]ProviderStatus, 0, len(healths))
	for _, h := range healths {
		snap := e.breakers.Get(h.Provider).Snapshot()
		metrics.CircuitState.WithLabelValues(string(h.Provider)).Set(circuitGauge(snap.State))
		statuses = append(statuses, ProviderStatus{Health: h, Circuit: snap})
	}
	return statuses
}

func circuitGauge(state breaker.State) float64 {
	switch state {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func (e *Engine) cacheEnabled() bool {
	return e.config.CacheEnabled && e.cache != nil
}

func (e *Engine) costFor(result *clients.Result, text, targetLang string) models.Cost {
	for _, provider := range e.router.Providers() {
		if provider.Name() == result.Provider {
			estimate := provider.EstimateCost(text, targetLang)
			return models.Cost{
				Amount:    estimate.Amount,
				Currency:  estimate.Currency,
				UnitsUsed: estimate.Units,
			}
		}
	}
	return models.Cost{Amount: decimal.Zero, Currency: e.config.Currency}
}

func (e *Engine) trackUsage(workspaceID, userID string, req *models.TranslationRequest,
	provider, model, sourceLang, targetLang string, cost decimal.Decimal, tokens int64,
	duration time.Duration, cacheHit bool) {
	e.tracker.Track(models.UsageRecord{
		WorkspaceID:    workspaceID,
		UserID:         userID,
		ChannelID:      req.ChannelID,
		Characters:     int64(len([]rune(req.Text))),
		TokensUsed:     tokens,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
		Provider:       provider,
		Model:          model,
		Cost:           cost,
		ResponseTimeMs: duration.Milliseconds(),
		CacheHit:       cacheHit,
	})
}
