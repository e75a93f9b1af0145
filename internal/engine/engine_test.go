package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/billing"
	"github.com/tesseract-hub/translation-engine/internal/breaker"
	"github.com/tesseract-hub/translation-engine/internal/cache"
	"github.com/tesseract-hub/translation-engine/internal/clients"
	"github.com/tesseract-hub/translation-engine/internal/conversation"
	"github.com/tesseract-hub/translation-engine/internal/health"
	"github.com/tesseract-hub/translation-engine/internal/models"
	"github.com/tesseract-hub/translation-engine/internal/repository"
	"github.com/tesseract-hub/translation-engine/internal/router"
	"github.com/tesseract-hub/translation-engine/internal/usage"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

// fakeProvider is a scriptable in-process provider.
type fakeProvider struct {
	name      clients.ProviderName
	languages map[string]bool
	perUnit   decimal.Decimal
	translate func(ctx context.Context, req clients.Request) (*clients.Result, error)
	detect    func(ctx context.Context, text string) (string, float64, error)

	mu    sync.Mutex
	calls int
}

func newFakeProvider(name clients.ProviderName, langs ...string) *fakeProvider {
	set := make(map[string]bool, len(langs))
	for _, l := range langs {
		set[l] = true
	}
	p := &fakeProvider{
		name:      name,
		languages: set,
		perUnit:   decimal.RequireFromString("0.00002"),
	}
	p.translate = func(ctx context.Context, req clients.Request) (*clients.Result, error) {
		return &clients.Result{
			TranslatedText: "übersetzt: " + req.Text,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
			Provider:       name,
			Model:          "fake-v1",
			Confidence:     0.9,
		}, nil
	}
	p.detect = func(ctx context.Context, text string) (string, float64, error) {
		return "en", 0.95, nil
	}
	return p
}

func (p *fakeProvider) Name() clients.ProviderName { return p.name }
func (p *fakeProvider) Model() string              { return "fake-v1" }
func (p *fakeProvider) IsConfigured() bool         { return true }

func (p *fakeProvider) SupportsLanguagePair(sourceLang, targetLang string) bool {
	if sourceLang != "" && sourceLang != "auto" && !p.languages[sourceLang] {
		return false
	}
	return p.languages[targetLang]
}

func (p *fakeProvider) CostPerUnit() decimal.Decimal { return p.perUnit }

func (p *fakeProvider) EstimateCost(text, targetLang string) clients.CostEstimate {
	units := int64(len([]rune(text)))
	return clients.CostEstimate{
		Amount:   p.perUnit.Mul(decimal.NewFromInt(units)),
		Currency: "USD",
		Units:    units,
	}
}

func (p *fakeProvider) Translate(ctx context.Context, req clients.Request) (*clients.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.translate(ctx, req)
}

func (p *fakeProvider) DetectLanguage(ctx context.Context, text string) (string, float64, error) {
	return p.detect(ctx, text)
}

func (p *fakeProvider) HealthCheck(ctx context.Context) clients.ProviderHealth {
	return clients.ProviderHealth{Provider: p.name, Status: clients.StatusHealthy, Available: true}
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// memCreditsRepo mirrors the SQL repository's atomicity in memory.
type memCreditsRepo struct {
	mu       sync.Mutex
	accounts map[string]*models.WorkspaceCredits
	txns     []models.CreditTransaction
}

func newMemCreditsRepo() *memCreditsRepo {
	return &memCreditsRepo{accounts: make(map[string]*models.WorkspaceCredits)}
}

func (r *memCreditsRepo) GetOrCreate(ctx context.Context, workspaceID string, defaults models.WorkspaceCredits) (*models.WorkspaceCredits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[workspaceID]; ok {
		snapshot := *account
		return &snapshot, nil
	}
	defaults.ID = uuid.New()
	defaults.WorkspaceID = workspaceID
	r.accounts[workspaceID] = &defaults
	snapshot := defaults
	return &snapshot, nil
}

func (r *memCreditsRepo) Get(ctx context.Context, workspaceID string) (*models.WorkspaceCredits, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[workspaceID]
	if !ok {
		return nil, errors.New("not found")
	}
	snapshot := *account
	return &snapshot, nil
}

func (r *memCreditsRepo) UpdateSettings(ctx context.Context, workspaceID string, autoRecharge bool, threshold, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[workspaceID]
	if !ok {
		return errors.New("not found")
	}
	account.AutoRecharge = autoRecharge
	account.RechargeThreshold = threshold
	account.RechargeAmount = amount
	return nil
}

func (r *memCreditsRepo) ApplyDebit(ctx context.Context, workspaceID string, amount decimal.Decimal, description, requestID string) (*models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[workspaceID]
	if !ok {
		return nil, errors.New("not found")
	}
	if account.Balance.LessThan(amount) {
		return nil, repository.ErrInsufficientBalance
	}
	txn := models.CreditTransaction{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		Type:          models.TransactionDebit,
		Amount:        amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance.Sub(amount),
		Description:   description,
		RequestID:     requestID,
	}
	account.Balance = txn.BalanceAfter
	r.txns = append(r.txns, txn)
	return &txn, nil
}

func (r *memCreditsRepo) ApplyCredit(ctx context.Context, workspaceID string, amount decimal.Decimal, description, paymentRef string) (*models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[workspaceID]
	if !ok {
		return nil, errors.New("not found")
	}
	txn := models.CreditTransaction{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		Type:          models.TransactionCredit,
		Amount:        amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance.Add(amount),
		Description:   description,
		PaymentRef:    paymentRef,
	}
	account.Balance = txn.BalanceAfter
	r.txns = append(r.txns, txn)
	return &txn, nil
}

func (r *memCreditsRepo) FindByRequestID(ctx context.Context, workspaceID, requestID string) (*models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.txns {
		if r.txns[i].WorkspaceID == workspaceID && r.txns[i].RequestID == requestID {
			snapshot := r.txns[i]
			return &snapshot, nil
		}
	}
	return nil, nil
}

func (r *memCreditsRepo) ListTransactions(ctx context.Context, workspaceID string, limit, offset int) ([]models.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CreditTransaction
	for i := len(r.txns) - 1; i >= 0; i-- {
		if r.txns[i].WorkspaceID == workspaceID {
			out = append(out, r.txns[i])
		}
	}
	return out, nil
}

func (r *memCreditsRepo) debitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, txn := range r.txns {
		if txn.Type == models.TransactionDebit {
			n++
		}
	}
	return n
}

// memUsageRepo records inserts for assertions.
type memUsageRepo struct {
	mu      sync.Mutex
	records []models.UsageRecord
}

func (r *memUsageRepo) InsertBatch(ctx context.Context, records []models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

func (r *memUsageRepo) RollupDay(ctx context.Context, workspaceID string, date time.Time) error {
	return nil
}

func (r *memUsageRepo) GetDailyUsage(ctx context.Context, workspaceID string, from, to time.Time) ([]models.DailyUsage, error) {
	return nil, nil
}

func (r *memUsageRepo) WorkspacesActiveOn(ctx context.Context, date time.Time) ([]string, error) {
	return nil, nil
}

func (r *memUsageRepo) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// fakeCache keeps both cache tiers in memory: a workspace-scoped fast tier
// standing in for Redis and a hash-scoped durable tier standing in for the
// warm store.
type fakeCache struct {
	mu      sync.Mutex
	fast    map[string]cache.Entry
	durable map[string]cache.Entry
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		fast:    make(map[string]cache.Entry),
		durable: make(map[string]cache.Entry),
	}
}

func (c *fakeCache) Get(ctx context.Context, workspaceID, sourceHash string) *cache.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.fast[workspaceID+":"+sourceHash]; ok {
		snapshot := entry
		return &snapshot
	}
	return nil
}

func (c *fakeCache) Set(ctx context.Context, workspaceID, sourceHash, sourceText, contextDigest string, entry cache.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.CachedAt = time.Now()
	c.fast[workspaceID+":"+sourceHash] = entry
	c.durable[sourceHash] = entry
	return nil
}

func (c *fakeCache) Stale(ctx context.Context, sourceHash string) *cache.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.durable[sourceHash]; ok {
		snapshot := entry
		return &snapshot
	}
	return nil
}

// dropFast simulates Redis eviction; the durable tier survives.
func (c *fakeCache) dropFast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fast = make(map[string]cache.Entry)
}

type payments struct{}

func (payments) Charge(ctx context.Context, workspaceID string, amount decimal.Decimal, currency string) (string, error) {
	return "pay_test", nil
}

func routerConfig() router.Config {
	return router.Config{
		HealthyWeight:   30,
		DegradedWeight:  15,
		AffinityMax:     20,
		ComplexityMax:   25,
		CostMax:         20,
		SimpleMaxChars:  50,
		ComplexMinChars: 500,
	}
}

type testHarness struct {
	engine  *Engine
	credits *memCreditsRepo
	usage   *memUsageRepo
}

func newTestEngine(t *testing.T, providers ...clients.TranslationProvider) *testHarness {
	t.Helper()
	logger := testLogger()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     time.Minute,
		CallTimeout:      time.Second,
	}, logger)

	poller := health.NewPoller(providers, time.Minute, logger)
	rt := router.New(providers, breakers, poller, routerConfig(), logger)

	creditsRepo := newMemCreditsRepo()
	ledger := billing.NewLedger(creditsRepo, payments{}, nil, billing.Config{
		Currency:                 "USD",
		FreemiumStartingBalance:  decimal.RequireFromString("5.00"),
		RechargeThresholdDefault: decimal.RequireFromString("1.00"),
		RechargeAmountDefault:    decimal.RequireFromString("10.00"),
		LowBalanceThreshold:      decimal.RequireFromString("1.00"),
	}, logger)

	usageRepo := &memUsageRepo{}
	tracker := usage.NewTracker(usageRepo, usage.Config{
		FlushBatchSize: 100,
		FlushInterval:  time.Hour,
		QueueCapacity:  64,
	}, logger)

	conv := conversation.NewManager(conversation.Config{
		BufferSize:        10,
		MinContextLength:  20,
		InactivityTimeout: time.Hour,
		SweepInterval:     time.Minute,
	}, logger)

	eng := New(rt, nil, conv, ledger, tracker, poller, breakers, Config{
		RequestTimeout: 5 * time.Second,
		CacheEnabled:   false,
		Currency:       "USD",
	}, logger)

	return &testHarness{engine: eng, credits: creditsRepo, usage: usageRepo}
}

func (h *testHarness) enableCache(c Cache) {
	h.engine.cache = c
	h.engine.config.CacheEnabled = true
}

func TestTranslateHappyPathDebitsOnce(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	resp, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatal(err)
	}

	if resp.TranslatedText != "übersetzt: hello" {
		t.Errorf("translated = %q", resp.TranslatedText)
	}
	if resp.Provider != "deepl" {
		t.Errorf("provider = %q, want deepl", resp.Provider)
	}

	wantCost := decimal.RequireFromString("0.00002").Mul(decimal.NewFromInt(5))
	if !resp.Cost.Amount.Equal(wantCost) {
		t.Errorf("cost = %s, want %s", resp.Cost.Amount, wantCost)
	}
	if got := h.credits.debitCount(); got != 1 {
		t.Errorf("debits = %d, want 1", got)
	}
}

func TestTranslateSameLanguageIsFree(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "en"}
	resp, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatal(err)
	}

	if resp.TranslatedText != "hello" {
		t.Errorf("same-language response should echo the input, got %q", resp.TranslatedText)
	}
	if !resp.Cost.Amount.IsZero() {
		t.Errorf("cost = %s, want 0", resp.Cost.Amount)
	}
	if provider.callCount() != 0 {
		t.Error("no provider call expected for a same-language request")
	}
	if h.credits.debitCount() != 0 {
		t.Error("no debit expected for a same-language request")
	}
}

func TestTranslateRejectsUnknownTarget(t *testing.T) {
	h := newTestEngine(t, newFakeProvider(clients.ProviderDeepL, "en", "de"))

	for _, target := range []string{"xx", "auto", ""} {
		req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: target}
		_, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
		if !errors.Is(err, ErrUnsupportedLanguage) {
			t.Errorf("target %q: expected ErrUnsupportedLanguage, got %v", target, err)
		}
	}
}

func TestTranslateInsufficientCredits(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	// Price the request far above the freemium balance.
	provider.perUnit = decimal.RequireFromString("10.00")
	h := newTestEngine(t, provider)

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	_, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if !errors.Is(err, billing.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if provider.callCount() != 0 {
		t.Error("provider should not be called when the balance check fails")
	}
}

func TestTranslateSecondRequestHitsCache(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)
	h.enableCache(newFakeCache())

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	first, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Metadata.CacheHit {
		t.Error("first request should miss the cache")
	}

	second, err := h.engine.Translate(context.Background(), "ws1", "u1", "req2", req)
	if err != nil {
		t.Fatal(err)
	}

	if !second.Metadata.CacheHit {
		t.Error("identical second request should hit the cache")
	}
	if second.TranslatedText != first.TranslatedText {
		t.Errorf("cached translation %q differs from original %q", second.TranslatedText, first.TranslatedText)
	}
	if second.Provider != first.Provider || second.Model != first.Model {
		t.Error("cached response should carry the original provider and model")
	}
	if !second.Cost.Amount.IsZero() {
		t.Errorf("cache hit cost = %s, want 0", second.Cost.Amount)
	}
	if got := provider.callCount(); got != 1 {
		t.Errorf("provider calls = %d, want 1 (second request served from cache)", got)
	}
	if got := h.credits.debitCount(); got != 1 {
		t.Errorf("debits = %d, want 1 (cache hits are free)", got)
	}
}

func TestTranslateCacheIsScopedPerWorkspace(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)
	h.enableCache(newFakeCache())

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	if _, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req); err != nil {
		t.Fatal(err)
	}

	// Another workspace asking for the same content pays its own way.
	resp, err := h.engine.Translate(context.Background(), "ws2", "u1", "req2", req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Metadata.CacheHit {
		t.Error("one workspace's cache entry must not serve another workspace")
	}
	if got := provider.callCount(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestTranslateDegradedServesStaleCache(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)
	fc := newFakeCache()
	h.enableCache(fc)

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	first, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatal(err)
	}

	// The fast tier is gone and the provider is down; the durable tier still
	// has the earlier answer.
	fc.dropFast()
	provider.translate = func(ctx context.Context, req clients.Request) (*clients.Result, error) {
		return nil, clients.TransientError(clients.ProviderDeepL, errors.New("down"))
	}

	resp, err := h.engine.Translate(context.Background(), "ws1", "u1", "req2", req)
	if err != nil {
		t.Fatalf("degraded mode must not fail the request: %v", err)
	}
	if !resp.Metadata.Degraded {
		t.Error("response should be flagged degraded")
	}
	if resp.TranslatedText != first.TranslatedText {
		t.Errorf("stale response = %q, want the previously cached %q", resp.TranslatedText, first.TranslatedText)
	}
	if !resp.Cost.Amount.IsZero() {
		t.Errorf("stale response cost = %s, want 0", resp.Cost.Amount)
	}
	if got := h.credits.debitCount(); got != 1 {
		t.Errorf("debits = %d, want 1 (stale serves are free)", got)
	}
}

func TestTranslateDegradesWhenAllProvidersFail(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	provider.translate = func(ctx context.Context, req clients.Request) (*clients.Result, error) {
		return nil, clients.TransientError(clients.ProviderDeepL, errors.New("down"))
	}
	h := newTestEngine(t, provider)

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	resp, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatalf("degraded mode must not fail the request: %v", err)
	}
	if !resp.Metadata.Degraded {
		t.Error("response should be flagged degraded")
	}
	if resp.TranslatedText != "hello" {
		t.Errorf("degraded response should echo the original, got %q", resp.TranslatedText)
	}
	if !resp.Cost.Amount.IsZero() {
		t.Errorf("degraded response cost = %s, want 0", resp.Cost.Amount)
	}
	if h.credits.debitCount() != 0 {
		t.Error("degraded translations must not be billed")
	}
}

func TestTranslateDegradesWhenCircuitIsOpen(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	provider.translate = func(ctx context.Context, req clients.Request) (*clients.Result, error) {
		return nil, clients.TransientError(clients.ProviderDeepL, errors.New("down"))
	}
	h := newTestEngine(t, provider)

	// Trip the breaker, then verify subsequent requests degrade without
	// touching the provider.
	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	for i := 0; i < 3; i++ {
		if _, err := h.engine.Translate(context.Background(), "ws1", "u1", "trip", req); err != nil {
			t.Fatal(err)
		}
	}
	calls := provider.callCount()

	resp, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatalf("open circuit must degrade, not fail: %v", err)
	}
	if !resp.Metadata.Degraded {
		t.Error("response should be flagged degraded")
	}
	if provider.callCount() != calls {
		t.Error("open circuit should prevent further provider calls")
	}
}

func TestTranslateFailsForUnsupportedPair(t *testing.T) {
	h := newTestEngine(t, newFakeProvider(clients.ProviderDeepL, "en", "de"))

	// Target is in the catalog but no provider covers it.
	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "ja"}
	_, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if !errors.Is(err, ErrTranslationUnavailable) {
		t.Fatalf("expected ErrTranslationUnavailable, got %v", err)
	}
}

func TestTranslateBillingIsIdempotentPerRequest(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)

	req := &models.TranslationRequest{Text: "hello", SourceLang: "en", TargetLang: "de"}
	for i := 0; i < 2; i++ {
		if _, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	if got := h.credits.debitCount(); got != 1 {
		t.Errorf("debits = %d, want 1 (same request id retried)", got)
	}
}

func TestTranslateAutoDetectsSource(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)

	req := &models.TranslationRequest{Text: "hello there", SourceLang: "auto", TargetLang: "de"}
	resp, err := h.engine.Translate(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SourceLang != "en" {
		t.Errorf("source = %q, want detected en", resp.SourceLang)
	}
}

func TestDetectLanguageFallsBackAcrossProviders(t *testing.T) {
	broken := newFakeProvider(clients.ProviderLibreTranslate, "en", "de")
	broken.detect = func(ctx context.Context, text string) (string, float64, error) {
		return "", 0, clients.TransientError(clients.ProviderLibreTranslate, errors.New("down"))
	}
	working := newFakeProvider(clients.ProviderDeepL, "en", "de")
	working.detect = func(ctx context.Context, text string) (string, float64, error) {
		return "fr", 0.8, nil
	}
	h := newTestEngine(t, broken, working)

	detected, err := h.engine.DetectLanguage(context.Background(), "bonjour")
	if err != nil {
		t.Fatal(err)
	}
	if detected.Language != "fr" {
		t.Errorf("language = %q, want fr", detected.Language)
	}
}

func TestDetectLanguageAllProvidersFail(t *testing.T) {
	broken := newFakeProvider(clients.ProviderDeepL, "en", "de")
	broken.detect = func(ctx context.Context, text string) (string, float64, error) {
		return "", 0, clients.TransientError(clients.ProviderDeepL, errors.New("down"))
	}
	h := newTestEngine(t, broken)

	_, err := h.engine.DetectLanguage(context.Background(), "hello")
	if !errors.Is(err, ErrDetectionFailed) {
		t.Fatalf("expected ErrDetectionFailed, got %v", err)
	}
}

func TestTranslateBatchDegradesFailedItems(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	provider.translate = func(ctx context.Context, req clients.Request) (*clients.Result, error) {
		if req.Text == "bad" {
			return nil, clients.TransientError(clients.ProviderDeepL, errors.New("boom"))
		}
		return &clients.Result{
			TranslatedText: "übersetzt: " + req.Text,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
			Provider:       clients.ProviderDeepL,
			Model:          "fake-v1",
			Confidence:     0.9,
		}, nil
	}
	h := newTestEngine(t, provider)

	req := &models.BatchTranslationRequest{
		SourceLang: "en",
		TargetLang: "de",
		Items: []models.BatchItem{
			{ID: "a", Text: "good morning"},
			{ID: "b", Text: "bad"},
			{ID: "c", Text: "good evening"},
		},
	}
	resp, err := h.engine.TranslateBatch(context.Background(), "ws1", "u1", "req1", req)
	if err != nil {
		t.Fatal(err)
	}

	if resp.TotalCount != 3 {
		t.Errorf("total = %d, want 3", resp.TotalCount)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(resp.Items))
	}

	byID := make(map[string]models.BatchResultItem)
	for _, item := range resp.Items {
		byID[item.ID] = item
	}
	if byID["a"].TranslatedText != "übersetzt: good morning" || byID["c"].TranslatedText != "übersetzt: good evening" {
		t.Error("successful items missing translations")
	}
	// The failed item degrades to an echo of the original.
	if byID["b"].TranslatedText != "bad" {
		t.Errorf("degraded item = %q, want echo of original", byID["b"].TranslatedText)
	}

	// Only the translated items are billed, each under its own derived
	// request id.
	if got := h.credits.debitCount(); got != 2 {
		t.Errorf("debits = %d, want 2", got)
	}
}

func TestTranslateBatchRejectsOversizedBatch(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)
	h.engine.config.MaxBatchItems = 2

	req := &models.BatchTranslationRequest{
		SourceLang: "en",
		TargetLang: "de",
		Items: []models.BatchItem{
			{ID: "a", Text: "one"}, {ID: "b", Text: "two"}, {ID: "c", Text: "three"},
		},
	}
	_, err := h.engine.TranslateBatch(context.Background(), "ws1", "u1", "req1", req)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if provider.callCount() != 0 {
		t.Error("oversized batch must be rejected before any provider call")
	}
}

func TestProviderStatusesAfterPoll(t *testing.T) {
	provider := newFakeProvider(clients.ProviderDeepL, "en", "de")
	h := newTestEngine(t, provider)

	// Before the first poll there is nothing to report.
	if got := len(h.engine.ProviderStatuses()); got != 0 {
		t.Errorf("statuses before poll = %d, want 0", got)
	}

	h.engine.poller.Poll(context.Background())

	statuses := h.engine.ProviderStatuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if statuses[0].Health.Status != clients.StatusHealthy {
		t.Errorf("status = %s, want healthy", statuses[0].Health.Status)
	}
	if statuses[0].Circuit.State != breaker.StateClosed {
		t.Errorf("circuit = %s, want closed", statuses[0].Circuit.State)
	}
}
