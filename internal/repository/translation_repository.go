package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tesseract-hub/translation-engine/internal/models"
)

// TranslationRepository covers the language catalog and the durable side of
// the translation cache.
type TranslationRepository interface {
	// Language operations
	GetLanguages(ctx context.Context) ([]models.Language, error)
	GetLanguageByCode(ctx context.Context, code string) (*models.Language, error)
	UpsertLanguage(ctx context.Context, lang *models.Language) error
	SeedLanguages(ctx context.Context) error

	// Durable cache operations; Persist/IncrementHit/Warmest/Lookup back the
	// Redis cache service.
	Persist(ctx context.Context, entry *models.CachedTranslation) error
	IncrementHit(ctx context.Context, workspaceID, sourceHash string) error
	Warmest(ctx context.Context, minHits int64, limit int) ([]models.CachedTranslation, error)
	Lookup(ctx context.Context, sourceHash string) (*models.CachedTranslation, error)
	DeleteExpired(ctx context.Context) (int64, error)
	DeleteByWorkspace(ctx context.Context, workspaceID string) error
}

// translationRepository implements TranslationRepository
type translationRepository struct {
	db *gorm.DB
}

// NewTranslationRepository creates a new translation repository
func NewTranslationRepository(db *gorm.DB) TranslationRepository {
	return &translationRepository{db: db}
}

// GetLanguages returns all active languages
func (r *translationRepository) GetLanguages(ctx context.Context) ([]models.Language, error) {
	var languages []models.Language
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("family, name").
		Find(&languages).Error
	return languages, err
}

// GetLanguageByCode returns a language by its code
func (r *translationRepository) GetLanguageByCode(ctx context.Context, code string) (*models.Language, error) {
	var language models.Language
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&language).Error
	if err != nil {
		return nil, err
	}
	return &language, nil
}

// UpsertLanguage inserts or updates a language
func (r *translationRepository) UpsertLanguage(ctx context.Context, lang *models.Language) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "native_name", "family", "rtl", "is_active", "updated_at"}),
		}).
		Create(lang).Error
}

// SeedLanguages seeds the initial language catalog
func (r *translationRepository) SeedLanguages(ctx context.Context) error {
	for _, lang := range models.SeedLanguages {
		lang.IsActive = true
		if err := r.UpsertLanguage(ctx, &lang); err != nil {
			return err
		}
	}
	return nil
}

// Persist writes a cache entry durably. Entries are unique per workspace and
// hash; identical concurrent writes collapse into one row.
func (r *translationRepository) Persist(ctx context.Context, entry *models.CachedTranslation) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "source_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"translated_text", "last_accessed_at", "expires_at"}),
		}).
		Create(entry).Error
}

// IncrementHit bumps the hit count for a workspace's cached translation
func (r *translationRepository) IncrementHit(ctx context.Context, workspaceID, sourceHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.CachedTranslation{}).
		Where("workspace_id = ? AND source_hash = ?", workspaceID, sourceHash).
		Updates(map[string]interface{}{
			"hit_count":        gorm.Expr("hit_count + 1"),
			"last_accessed_at": time.Now(),
		}).Error
}

// Warmest returns unexpired entries with at least minHits hits, hottest first
func (r *translationRepository) Warmest(ctx context.Context, minHits int64, limit int) ([]models.CachedTranslation, error) {
	var entries []models.CachedTranslation
	err := r.db.WithContext(ctx).
		Where("hit_count >= ? AND expires_at > ?", minHits, time.Now()).
		Order("hit_count DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Lookup fetches a cache entry by hash regardless of expiry. Degraded mode
// serves stale entries when no provider is available.
func (r *translationRepository) Lookup(ctx context.Context, sourceHash string) (*models.CachedTranslation, error) {
	var entry models.CachedTranslation
	err := r.db.WithContext(ctx).
		Where("source_hash = ?", sourceHash).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteExpired removes expired cache entries and returns how many were deleted
func (r *translationRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.CachedTranslation{})
	return result.RowsAffected, result.Error
}

// DeleteByWorkspace removes all cached translations for a workspace
func (r *translationRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	return r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Delete(&models.CachedTranslation{}).Error
}
