package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/models"
)

// Store is the durable backing for cache entries, used for warm-up after a
// restart and for stale reads in degraded mode.
type Store interface {
	Persist(ctx context.Context, entry *models.CachedTranslation) error
	IncrementHit(ctx context.Context, workspaceID, sourceHash string) error
	Warmest(ctx context.Context, minHits int64, limit int) ([]models.CachedTranslation, error)
	Lookup(ctx context.Context, sourceHash string) (*models.CachedTranslation, error)
}

// Entry is the cached translation snapshot stored in Redis.
type Entry struct {
	TranslatedText string          `json:"translated_text"`
	SourceLang     string          `json:"source_lang"`
	TargetLang     string          `json:"target_lang"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	Confidence     float64         `json:"confidence"`
	CostAmount     decimal.Decimal `json:"cost_amount"`
	Currency       string          `json:"currency"`
	CachedAt       time.Time       `json:"cached_at"`
}

// TranslationCache provides Redis-backed caching with durable write-through.
// Entries are immutable once written; hit counts are incremented off the
// response path.
type TranslationCache struct {
	client *redis.Client
	store  Store
	ttl    time.Duration
	logger *logrus.Entry
}

// NewTranslationCache connects to Redis and returns the cache service.
func NewTranslationCache(host string, port int, password string, db int, ttl time.Duration, store Store, logger *logrus.Entry) (*TranslationCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis cache")

	return &TranslationCache{
		client: client,
		store:  store,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (c *TranslationCache) key(workspaceID, sourceHash string) string {
	return fmt.Sprintf("trans:%s:%s", workspaceID, sourceHash)
}

// Get retrieves a cached translation by content hash. A hit schedules a
// fire-and-forget hit-count increment; Redis errors are treated as misses.
func (c *TranslationCache) Get(ctx context.Context, workspaceID, sourceHash string) *Entry {
	val, err := c.client.Get(ctx, c.key(workspaceID, sourceHash)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.WithError(err).Warn("Failed to get from cache")
		return nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		c.logger.WithError(err).Warn("Failed to unmarshal cached translation")
		return nil
	}

	if c.store != nil {
		go func() {
			hitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := c.store.IncrementHit(hitCtx, workspaceID, sourceHash); err != nil {
				c.logger.WithError(err).Debug("Failed to record cache hit")
			}
		}()
	}

	return &entry
}

// Set stores a translation in Redis and writes it through to durable
// storage. Concurrent writes for the same hash carry identical content, so
// last-write-wins is safe.
func (c *TranslationCache) Set(ctx context.Context, workspaceID, sourceHash, sourceText, contextDigest string, entry Entry) error {
	entry.CachedAt = time.Now()

	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal translation: %w", err)
	}

	if err := c.client.Set(ctx, c.key(workspaceID, sourceHash), val, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to set cache")
		return err
	}

	if c.store != nil {
		go func() {
			persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			record := &models.CachedTranslation{
				WorkspaceID:    workspaceID,
				SourceLang:     entry.SourceLang,
				TargetLang:     entry.TargetLang,
				SourceHash:     sourceHash,
				SourceText:     sourceText,
				TranslatedText: entry.TranslatedText,
				ContextDigest:  contextDigest,
				Provider:       entry.Provider,
				Model:          entry.Model,
				Confidence:     entry.Confidence,
				CostAmount:     entry.CostAmount,
				LastAccessedAt: time.Now(),
				ExpiresAt:      time.Now().Add(c.ttl),
			}
			if err := c.store.Persist(persistCtx, record); err != nil {
				c.logger.WithError(err).Warn("Failed to persist cache entry")
			}
		}()
	}

	return nil
}

// Stale looks up a translation in durable storage, ignoring expiry. Used in
// degraded mode when every provider is unavailable; a stale answer beats no
// answer.
func (c *TranslationCache) Stale(ctx context.Context, sourceHash string) *Entry {
	if c.store == nil {
		return nil
	}
	record, err := c.store.Lookup(ctx, sourceHash)
	if err != nil || record == nil {
		return nil
	}
	return &Entry{
		TranslatedText: record.TranslatedText,
		SourceLang:     record.SourceLang,
		TargetLang:     record.TargetLang,
		Provider:       record.Provider,
		Model:          record.Model,
		Confidence:     record.Confidence,
		CostAmount:     record.CostAmount,
		CachedAt:       record.CreatedAt,
	}
}

// WarmUp pre-loads frequently hit entries from durable storage into Redis.
// Called once at startup.
func (c *TranslationCache) WarmUp(ctx context.Context, minHits int64, limit int) (int, error) {
	if c.store == nil {
		return 0, nil
	}

	records, err := c.store.Warmest(ctx, minHits, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load warm-up entries: %w", err)
	}

	loaded := 0
	for _, record := range records {
		entry := Entry{
			TranslatedText: record.TranslatedText,
			SourceLang:     record.SourceLang,
			TargetLang:     record.TargetLang,
			Provider:       record.Provider,
			Model:          record.Model,
			Confidence:     record.Confidence,
			CostAmount:     record.CostAmount,
			CachedAt:       record.CreatedAt,
		}
		val, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		ttl := time.Until(record.ExpiresAt)
		if ttl <= 0 {
			ttl = c.ttl
		}
		if err := c.client.Set(ctx, c.key(record.WorkspaceID, record.SourceHash), val, ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("Failed to warm cache entry")
			continue
		}
		loaded++
	}

	c.logger.WithField("loaded", loaded).Info("Cache warm-up complete")
	return loaded, nil
}

// InvalidateWorkspace removes all cached translations for a workspace.
func (c *TranslationCache) InvalidateWorkspace(ctx context.Context, workspaceID string) error {
	pattern := fmt.Sprintf("trans:%s:*", workspaceID)
	return c.deleteByPattern(ctx, pattern)
}

// deleteByPattern deletes all keys matching a pattern
func (c *TranslationCache) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	var deletedCount int64

	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.logger.WithError(err).Warn("Failed to delete keys")
			} else {
				deletedCount += deleted
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	c.logger.WithField("deleted_count", deletedCount).Info("Invalidated cache entries")
	return nil
}

// HealthCheck checks if Redis is healthy
func (c *TranslationCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *TranslationCache) Close() error {
	return c.client.Close()
}
