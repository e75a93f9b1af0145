package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tesseract-hub/translation-engine/internal/models"
)

// UsageRepository persists usage records and maintains the daily rollups.
type UsageRepository interface {
	InsertBatch(ctx context.Context, records []models.UsageRecord) error
	RollupDay(ctx context.Context, workspaceID string, date time.Time) error
	GetDailyUsage(ctx context.Context, workspaceID string, from, to time.Time) ([]models.DailyUsage, error)
	WorkspacesActiveOn(ctx context.Context, date time.Time) ([]string, error)
	DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// usageRepository implements UsageRepository
type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

// InsertBatch writes a flushed batch of usage records
func (r *usageRepository) InsertBatch(ctx context.Context, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, len(records)).Error
}

type dailyTotals struct {
	TranslationCount  int64
	DistinctUsers     int64
	TotalCost         decimal.Decimal
	CacheHits         int64
	AvgResponseTimeMs float64
}

type breakdownRow struct {
	Key   string
	Count int64
}

// RollupDay recomputes the daily aggregate for one workspace and day from
// the raw usage records and upserts the rollup row. Recomputing instead of
// incrementing keeps distinct-user counts and averages exact even when a
// batch is redelivered.
func (r *usageRepository) RollupDay(ctx context.Context, workspaceID string, date time.Time) error {
	day := date.Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	var totals dailyTotals
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select(`COUNT(*) AS translation_count,
			COUNT(DISTINCT user_id) AS distinct_users,
			COALESCE(SUM(cost), 0) AS total_cost,
			COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hits,
			COALESCE(AVG(response_time_ms), 0) AS avg_response_time_ms`).
		Where("workspace_id = ? AND created_at >= ? AND created_at < ?", workspaceID, day, next).
		Scan(&totals).Error
	if err != nil {
		return err
	}
	if totals.TranslationCount == 0 {
		return nil
	}

	pairs, err := r.breakdown(ctx, workspaceID, day, next,
		"source_lang || '-' || target_lang")
	if err != nil {
		return err
	}
	providers, err := r.breakdown(ctx, workspaceID, day, next, "provider")
	if err != nil {
		return err
	}

	rollup := models.DailyUsage{
		WorkspaceID:       workspaceID,
		Date:              day,
		TranslationCount:  totals.TranslationCount,
		DistinctUsers:     totals.DistinctUsers,
		TotalCost:         totals.TotalCost,
		CacheHits:         totals.CacheHits,
		AvgResponseTimeMs: totals.AvgResponseTimeMs,
		LanguagePairs:     pairs,
		Providers:         providers,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "workspace_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"translation_count", "distinct_users", "total_cost", "cache_hits",
				"avg_response_time_ms", "language_pairs", "providers", "updated_at",
			}),
		}).
		Create(&rollup).Error
}

// breakdown builds a JSONB count map grouped by the given expression
func (r *usageRepository) breakdown(ctx context.Context, workspaceID string, day, next time.Time, expr string) (datatypes.JSON, error) {
	var rows []breakdownRow
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select(expr+" AS key, COUNT(*) AS count").
		Where("workspace_id = ? AND created_at >= ? AND created_at < ?", workspaceID, day, next).
		Group(expr).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Key] = row.Count
	}
	return json.Marshal(counts)
}

// GetDailyUsage returns rollup rows for a workspace within [from, to]
func (r *usageRepository) GetDailyUsage(ctx context.Context, workspaceID string, from, to time.Time) ([]models.DailyUsage, error) {
	var usage []models.DailyUsage
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND date >= ? AND date <= ?", workspaceID, from, to).
		Order("date DESC").
		Find(&usage).Error
	return usage, err
}

// WorkspacesActiveOn returns the workspaces with usage records on a day
func (r *usageRepository) WorkspacesActiveOn(ctx context.Context, date time.Time) ([]string, error) {
	day := date.Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	var workspaceIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Distinct("workspace_id").
		Where("created_at >= ? AND created_at < ?", day, next).
		Pluck("workspace_id", &workspaceIDs).Error
	return workspaceIDs, err
}

// DeleteRecordsBefore prunes raw usage records older than the cutoff; the
// daily rollups retain the aggregates.
func (r *usageRepository) DeleteRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.UsageRecord{})
	return result.RowsAffected, result.Error
}
