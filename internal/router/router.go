package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/breaker"
	"github.com/tesseract-hub/translation-engine/internal/clients"
	"github.com/tesseract-hub/translation-engine/internal/conversation"
	"github.com/tesseract-hub/translation-engine/internal/models"
)

var (
	// ErrNoProviders means no configured provider can serve the request's
	// language pair right now.
	ErrNoProviders = errors.New("no provider available for language pair")
	// ErrAllProvidersFailed means every candidate was tried and failed.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// HealthSource exposes the latest health snapshot for a provider. Reads are
// safe for concurrent use; the poller swaps whole snapshots.
type HealthSource interface {
	Status(provider clients.ProviderName) clients.HealthStatus
}

// Config holds the scoring weights. The weights are heuristic and tunable;
// the contract is the shape: weighted sum, highest wins, ties broken by
// registration order.
type Config struct {
	HealthyWeight   int
	DegradedWeight  int
	AffinityMax     int
	ComplexityMax   int
	CostMax         int
	SimpleMaxChars  int
	ComplexMinChars int
}

// Complexity buckets for the three-way text classifier.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// familyAffinity scores how well each provider handles a language family,
// on a 0-25 scale that is rescaled to Config.AffinityMax.
var familyAffinity = map[clients.ProviderName]map[string]int{
	clients.ProviderDeepL: {
		"germanic": 25, "romance": 25, "slavic": 20, "cjk": 12, "turkic": 10,
	},
	clients.ProviderOpenAI: {
		"germanic": 20, "romance": 20, "slavic": 20, "cjk": 22, "indic": 20,
		"semitic": 20, "turkic": 18, "austroasiatic": 18, "austronesian": 18, "kra-dai": 18,
	},
	clients.ProviderGoogle: {
		"germanic": 15, "romance": 15, "slavic": 15, "cjk": 15, "indic": 18,
		"semitic": 15, "turkic": 15, "austroasiatic": 15, "austronesian": 15, "kra-dai": 15,
	},
	clients.ProviderLibreTranslate: {
		"germanic": 12, "romance": 12, "slavic": 10, "cjk": 8, "indic": 8,
		"semitic": 8, "turkic": 8, "austroasiatic": 8, "austronesian": 8, "kra-dai": 8,
	},
}

// complexityFit scores each provider per complexity bucket, 0-25 scale.
var complexityFit = map[clients.ProviderName]map[Complexity]int{
	clients.ProviderOpenAI:         {ComplexitySimple: 8, ComplexityMedium: 18, ComplexityComplex: 25},
	clients.ProviderDeepL:          {ComplexitySimple: 15, ComplexityMedium: 22, ComplexityComplex: 18},
	clients.ProviderGoogle:         {ComplexitySimple: 18, ComplexityMedium: 15, ComplexityComplex: 10},
	clients.ProviderLibreTranslate: {ComplexitySimple: 22, ComplexityMedium: 12, ComplexityComplex: 5},
}

// Request carries everything the scorer needs.
type Request struct {
	Text        string
	SourceLang  string
	TargetLang  string
	Context     string
	QualityTier models.QualityTier
	MaxCost     *decimal.Decimal
}

// Candidate is a scored provider, ready to call through its breaker.
type Candidate struct {
	Provider clients.TranslationProvider
	Breaker  *breaker.Breaker
	Score    int
}

// Router scores registered providers per request and walks the ranked list
// on failure. Registration order is the deterministic tie-break.
type Router struct {
	providers []clients.TranslationProvider
	breakers  *breaker.Registry
	health    HealthSource
	config    Config
	logger    *logrus.Entry
}

// New creates a router over the registered providers, in registration order.
func New(providers []clients.TranslationProvider, breakers *breaker.Registry, health HealthSource, config Config, logger *logrus.Entry) *Router {
	return &Router{
		providers: providers,
		breakers:  breakers,
		health:    health,
		config:    config,
		logger:    logger,
	}
}

// Providers returns the registered providers in registration order.
func (r *Router) Providers() []clients.TranslationProvider {
	return r.providers
}

// Classify buckets the text into simple, medium or complex. Lengths are
// measured in runes so multi-byte scripts classify the same as Latin text.
func (r *Router) Classify(text, context string) Complexity {
	length := len([]rune(text))
	switch {
	case length > r.config.ComplexMinChars || len([]rune(context)) > 200 || len(conversation.ExtractTerms(text)) > 0:
		return ComplexityComplex
	case length < r.config.SimpleMaxChars && context == "":
		return ComplexitySimple
	default:
		return ComplexityMedium
	}
}

// Rank scores every eligible provider and returns candidates highest first.
// Providers are excluded when unconfigured, when they do not support the
// language pair, when their circuit is open, or when their estimate exceeds
// the request's cost cap.
func (r *Router) Rank(req Request) []Candidate {
	complexity := r.Classify(req.Text, req.Context)
	sourceFamily := models.LanguageFamily(req.SourceLang)
	targetFamily := models.LanguageFamily(req.TargetLang)

	var candidates []Candidate
	var costs []decimal.Decimal

	for _, provider := range r.providers {
		if !provider.IsConfigured() {
			continue
		}
		if !provider.SupportsLanguagePair(req.SourceLang, req.TargetLang) {
			continue
		}
		cb := r.breakers.Get(provider.Name())
		if cb.Open() {
			continue
		}
		if req.MaxCost != nil {
			if provider.EstimateCost(req.Text, req.TargetLang).Amount.GreaterThan(*req.MaxCost) {
				continue
			}
		}
		candidates = append(candidates, Candidate{Provider: provider, Breaker: cb})
		costs = append(costs, provider.CostPerUnit())
	}
	if len(candidates) == 0 {
		return nil
	}

	minCost, maxCost := costs[0], costs[0]
	for _, c := range costs[1:] {
		if c.LessThan(minCost) {
			minCost = c
		}
		if c.GreaterThan(maxCost) {
			maxCost = c
		}
	}

	for i := range candidates {
		provider := candidates[i].Provider
		score := r.healthScore(provider.Name())
		score += r.affinityScore(provider.Name(), sourceFamily, targetFamily)
		score += r.complexityScore(provider.Name(), complexity)
		if req.QualityTier == models.TierEconomy {
			score += r.costScore(costs[i], minCost, maxCost)
		}
		candidates[i].Score = score
	}

	// Stable sort keeps registration order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// SelectProvider returns the highest-scoring eligible provider.
func (r *Router) SelectProvider(req Request) (clients.TranslationProvider, error) {
	candidates := r.Rank(req)
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}
	return candidates[0].Provider, nil
}

// TranslateWithFallback walks the ranked candidates until one succeeds.
// Circuit-open rejections and provider errors move on to the next
// candidate; an exceeded overall deadline stops the walk so the caller can
// fall back to degraded mode.
func (r *Router) TranslateWithFallback(ctx context.Context, req Request) (*clients.Result, error) {
	candidates := r.Rank(req)
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	callReq := clients.Request{
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Context:    req.Context,
	}

	var attemptErrs []error
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			attemptErrs = append(attemptErrs, ctx.Err())
			break
		}

		provider := candidate.Provider
		result, err := candidate.Breaker.Execute(ctx, func(callCtx context.Context) (*clients.Result, error) {
			return provider.Translate(callCtx, callReq)
		})
		if err == nil {
			return result, nil
		}

		r.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"score":    candidate.Score,
		}).WithError(err).Warn("Provider attempt failed, trying next candidate")
		attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", provider.Name(), err))
	}

	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(attemptErrs...))
}

func (r *Router) healthScore(provider clients.ProviderName) int {
	switch r.health.Status(provider) {
	case clients.StatusHealthy:
		return r.config.HealthyWeight
	case clients.StatusDegraded:
		return r.config.DegradedWeight
	default:
		return 0
	}
}

func (r *Router) affinityScore(provider clients.ProviderName, sourceFamily, targetFamily string) int {
	table := familyAffinity[provider]
	if table == nil {
		return 0
	}
	raw := (table[sourceFamily] + table[targetFamily]) / 2
	return raw * r.config.AffinityMax / 25
}

func (r *Router) complexityScore(provider clients.ProviderName, complexity Complexity) int {
	table := complexityFit[provider]
	if table == nil {
		return 0
	}
	return table[complexity] * r.config.ComplexityMax / 25
}

// costScore gives the cheapest candidate the full cost weight, scaled
// linearly down to zero for the most expensive one.
func (r *Router) costScore(cost, minCost, maxCost decimal.Decimal) int {
	spread := maxCost.Sub(minCost)
	if spread.IsZero() {
		return r.config.CostMax / 2
	}
	ratio := maxCost.Sub(cost).Div(spread)
	return int(ratio.Mul(decimal.NewFromInt(int64(r.config.CostMax))).IntPart())
}
