package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/repository"
)

// Scheduler runs the periodic maintenance jobs: expired cache cleanup,
// yesterday's rollup re-run, and raw usage record pruning.
type Scheduler struct {
	translations repository.TranslationRepository
	usage        repository.UsageRepository
	retention    time.Duration
	logger       *logrus.Entry

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// New creates the maintenance scheduler. retention bounds how long raw
// usage records are kept; the daily rollups outlive them.
func New(translations repository.TranslationRepository, usage repository.UsageRepository,
	retention time.Duration, logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		translations: translations,
		usage:        usage,
		retention:    retention,
		logger:       logger,
	}
}

// Start registers and starts the cron jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron = cron.New(cron.WithSeconds())

	// Hourly: drop expired cache entries.
	if _, err := s.cron.AddFunc("0 0 * * * *", s.cleanupExpiredCache); err != nil {
		return err
	}
	// Daily at 00:15 UTC: re-run yesterday's rollups so late-flushed records
	// land in the aggregates.
	if _, err := s.cron.AddFunc("0 15 0 * * *", s.rollupYesterday); err != nil {
		return err
	}
	// Daily at 03:00 UTC: prune raw usage records past retention.
	if _, err := s.cron.AddFunc("0 0 3 * * *", s.pruneUsageRecords); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Maintenance scheduler started")
	return nil
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Maintenance scheduler stopped")
}

func (s *Scheduler) cleanupExpiredCache() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.translations.DeleteExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to clean up expired cache entries")
		return
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("Cleaned up expired cache entries")
	}
}

func (s *Scheduler) rollupYesterday() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	workspaceIDs, err := s.usage.WorkspacesActiveOn(ctx, yesterday)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list workspaces for rollup")
		return
	}

	for _, workspaceID := range workspaceIDs {
		if err := s.usage.RollupDay(ctx, workspaceID, yesterday); err != nil {
			s.logger.WithField("workspace_id", workspaceID).
				WithError(err).Warn("Daily rollup re-run failed")
		}
	}
	s.logger.WithField("workspaces", len(workspaceIDs)).Info("Re-ran daily rollups")
}

func (s *Scheduler) pruneUsageRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	deleted, err := s.usage.DeleteRecordsBefore(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.WithError(err).Warn("Failed to prune usage records")
		return
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("Pruned old usage records")
	}
}
