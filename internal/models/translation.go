package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// QualityTier selects the cost/quality trade-off for a translation request.
type QualityTier string

const (
	TierEconomy  QualityTier = "economy"
	TierBalanced QualityTier = "balanced"
	TierPremium  QualityTier = "premium"
)

// Language represents a supported language.
type Language struct {
	Code       string `json:"code" gorm:"primaryKey;type:varchar(10)"`
	Name       string `json:"name" gorm:"type:varchar(100);not null"`
	NativeName string `json:"native_name" gorm:"type:varchar(100)"`
	Family     string `json:"family" gorm:"type:varchar(30);index"`
	RTL        bool   `json:"rtl" gorm:"default:false"`
	IsActive   bool   `json:"is_active" gorm:"default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TranslationRequest represents a translation request from the API.
type TranslationRequest struct {
	Text        string           `json:"text" binding:"required,max=10000"`
	SourceLang  string           `json:"source_lang"` // empty or "auto" triggers detection
	TargetLang  string           `json:"target_lang" binding:"required"`
	Context     string           `json:"context"`
	ChannelID   string           `json:"channel_id"`
	QualityTier QualityTier      `json:"quality_tier"`
	MaxCost     *decimal.Decimal `json:"max_cost,omitempty"`
	TimeoutMs   int              `json:"timeout_ms"`
}

// Cost describes what a translation was charged against the workspace ledger.
type Cost struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	UnitsUsed int64           `json:"units_used"`
}

// ResponseMetadata carries per-request bookkeeping back to the caller.
type ResponseMetadata struct {
	DurationMs int64  `json:"duration_ms"`
	CacheHit   bool   `json:"cache_hit"`
	RequestID  string `json:"request_id"`
	Degraded   bool   `json:"degraded"`
}

// TranslationResponse represents the response for a single translation.
type TranslationResponse struct {
	TranslatedText string           `json:"translated_text"`
	OriginalText   string           `json:"original_text"`
	SourceLang     string           `json:"source_lang"`
	TargetLang     string           `json:"target_lang"`
	Confidence     float64          `json:"confidence"`
	Provider       string           `json:"provider,omitempty"`
	Model          string           `json:"model,omitempty"`
	Cost           Cost             `json:"cost"`
	Metadata       ResponseMetadata `json:"metadata"`
}

// DetectLanguageRequest represents a language detection request.
type DetectLanguageRequest struct {
	Text string `json:"text" binding:"required,max=10000"`
}

// DetectLanguageResponse represents the response for language detection.
type DetectLanguageResponse struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// BatchTranslationRequest represents a batch translation request.
type BatchTranslationRequest struct {
	Items      []BatchItem `json:"items" binding:"required,min=1,max=50"`
	SourceLang string      `json:"source_lang"`
	TargetLang string      `json:"target_lang" binding:"required"`
}

// BatchItem is a single item in a batch request.
type BatchItem struct {
	ID   string `json:"id"`
	Text string `json:"text" binding:"required,max=10000"`
}

// BatchTranslationResponse represents the response for batch translation.
type BatchTranslationResponse struct {
	Items       []BatchResultItem `json:"items"`
	TotalCount  int               `json:"total_count"`
	CachedCount int               `json:"cached_count"`
	TargetLang  string            `json:"target_lang"`
}

// BatchResultItem is a single translated item in a batch response.
type BatchResultItem struct {
	ID             string `json:"id"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
	Cached         bool   `json:"cached"`
	Error          string `json:"error,omitempty"`
}

// CachedTranslation stores translations durably so the fast cache can be
// warmed after a restart. Entries are immutable except for hit_count.
type CachedTranslation struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	WorkspaceID    string          `json:"workspace_id" gorm:"type:varchar(50);not null;uniqueIndex:idx_cached_translation_ws_hash"`
	SourceLang     string          `json:"source_lang" gorm:"type:varchar(10);not null"`
	TargetLang     string          `json:"target_lang" gorm:"type:varchar(10);not null"`
	SourceHash     string          `json:"source_hash" gorm:"type:varchar(64);not null;uniqueIndex:idx_cached_translation_ws_hash;index:idx_cached_translation_hash"`
	SourceText     string          `json:"source_text" gorm:"type:text;not null"`
	TranslatedText string          `json:"translated_text" gorm:"type:text;not null"`
	ContextDigest  string          `json:"context_digest" gorm:"type:varchar(64)"`
	Provider       string          `json:"provider" gorm:"type:varchar(50)"`
	Model          string          `json:"model" gorm:"type:varchar(80)"`
	Confidence     float64         `json:"confidence"`
	CostAmount     decimal.Decimal `json:"cost_amount" gorm:"type:decimal(14,6);default:0"`
	HitCount       int64           `json:"hit_count" gorm:"default:0"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	ExpiresAt      time.Time       `json:"expires_at" gorm:"index"`
}

// BeforeCreate hook to generate UUID
func (c *CachedTranslation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CacheKey produces the deterministic content address for a translation:
// sha256 over the text, language pair and context digest.
func CacheKey(text, sourceLang, targetLang, contextDigest string) string {
	data := sourceLang + "|" + targetLang + "|" + contextDigest + "|" + text
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ContextDigest collapses free-form conversation context into a short stable
// digest so equal requests with equal context share a cache entry.
func ContextDigest(context string) string {
	if context == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(context))
	return hex.EncodeToString(sum[:8])
}

// SeedLanguages is the initial language catalog. Family drives the router's
// language-pair affinity scoring.
var SeedLanguages = []Language{
	{Code: "en", Name: "English", NativeName: "English", Family: "germanic"},
	{Code: "de", Name: "German", NativeName: "Deutsch", Family: "germanic"},
	{Code: "nl", Name: "Dutch", NativeName: "Nederlands", Family: "germanic"},
	{Code: "sv", Name: "Swedish", NativeName: "Svenska", Family: "germanic"},
	{Code: "es", Name: "Spanish", NativeName: "Español", Family: "romance"},
	{Code: "fr", Name: "French", NativeName: "Français", Family: "romance"},
	{Code: "it", Name: "Italian", NativeName: "Italiano", Family: "romance"},
	{Code: "pt", Name: "Portuguese", NativeName: "Português", Family: "romance"},
	{Code: "ro", Name: "Romanian", NativeName: "Română", Family: "romance"},
	{Code: "ru", Name: "Russian", NativeName: "Русский", Family: "slavic"},
	{Code: "pl", Name: "Polish", NativeName: "Polski", Family: "slavic"},
	{Code: "uk", Name: "Ukrainian", NativeName: "Українська", Family: "slavic"},
	{Code: "cs", Name: "Czech", NativeName: "Čeština", Family: "slavic"},
	{Code: "zh", Name: "Chinese", NativeName: "中文", Family: "cjk"},
	{Code: "ja", Name: "Japanese", NativeName: "日本語", Family: "cjk"},
	{Code: "ko", Name: "Korean", NativeName: "한국어", Family: "cjk"},
	{Code: "hi", Name: "Hindi", NativeName: "हिन्दी", Family: "indic"},
	{Code: "bn", Name: "Bengali", NativeName: "বাংলা", Family: "indic"},
	{Code: "ar", Name: "Arabic", NativeName: "العربية", Family: "semitic", RTL: true},
	{Code: "he", Name: "Hebrew", NativeName: "עברית", Family: "semitic", RTL: true},
	{Code: "tr", Name: "Turkish", NativeName: "Türkçe", Family: "turkic"},
	{Code: "vi", Name: "Vietnamese", NativeName: "Tiếng Việt", Family: "austroasiatic"},
	{Code: "id", Name: "Indonesian", NativeName: "Bahasa Indonesia", Family: "austronesian"},
	{Code: "th", Name: "Thai", NativeName: "ไทย", Family: "kra-dai"},
}

// LanguageFamily returns the family for a language code, or "" when unknown.
func LanguageFamily(code string) string {
	for _, l := range SeedLanguages {
		if l.Code == code {
			return l.Family
		}
	}
	return ""
}
