package usage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/metrics"
	"github.com/tesseract-hub/translation-engine/internal/models"
	"github.com/tesseract-hub/translation-engine/internal/repository"
)

// Config controls flush batching.
type Config struct {
	// FlushBatchSize flushes as soon as this many records are queued.
	FlushBatchSize int
	// FlushInterval flushes whatever is queued on this cadence.
	FlushInterval time.Duration
	// QueueCapacity bounds the in-memory queue; producers never block.
	QueueCapacity int
}

// Tracker buffers usage records in memory and flushes them in batches to
// durable storage, then refreshes the daily rollups for the affected days.
// Failed batches are retried on the next flush rather than dropped.
type Tracker struct {
	repo   repository.UsageRepository
	queue  chan models.UsageRecord
	config Config
	logger *logrus.Entry

	// pending holds records whose flush failed; touched only by the Run
	// goroutine.
	pending []models.UsageRecord
}

// NewTracker creates the usage tracker.
func NewTracker(repo repository.UsageRepository, config Config, logger *logrus.Entry) *Tracker {
	return &Tracker{
		repo:   repo,
		queue:  make(chan models.UsageRecord, config.QueueCapacity),
		config: config,
		logger: logger,
	}
}

// Track enqueues one usage record. Never blocks the request path: when the
// queue is full the record is dropped with a warning.
func (t *Tracker) Track(record models.UsageRecord) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	select {
	case t.queue <- record:
		metrics.UsageQueueDepth.Set(float64(len(t.queue)))
	default:
		metrics.UsageRecordsDropped.Inc()
		t.logger.WithField("workspace_id", record.WorkspaceID).
			Warn("Usage queue full, dropping record")
	}
}

// Run drains the queue until ctx is cancelled, flushing when the batch size
// or the interval is reached, whichever comes first. On shutdown the
// remaining queue is flushed.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.UsageRecord, 0, t.config.FlushBatchSize)

	for {
		select {
		case <-ctx.Done():
			// Final drain; the queue is closed to new producers by the
			// caller's shutdown ordering.
			for {
				select {
				case record := <-t.queue:
					batch = append(batch, record)
				default:
					t.flush(&batch)
					return
				}
			}
		case record := <-t.queue:
			batch = append(batch, record)
			if len(batch) >= t.config.FlushBatchSize {
				t.flush(&batch)
			}
		case <-ticker.C:
			t.flush(&batch)
		}
	}
}

// flush writes pending plus the current batch, keeping everything for the
// next attempt on failure (at-least-once into the store; rollups recompute,
// so redelivery cannot double-count).
func (t *Tracker) flush(batch *[]models.UsageRecord) {
	records := append(t.pending, *batch...)
	*batch = (*batch)[:0]
	if len(records) == 0 {
		t.pending = nil
		return
	}

	metrics.UsageQueueDepth.Set(float64(len(t.queue)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := t.repo.InsertBatch(ctx, records); err != nil {
		t.logger.WithField("count", len(records)).
			WithError(err).Warn("Usage flush failed, will retry")
		if len(records) > t.config.QueueCapacity {
			dropped := len(records) - t.config.QueueCapacity
			metrics.UsageRecordsDropped.Add(float64(dropped))
			t.logger.WithField("dropped", dropped).
				Error("Usage retry backlog over capacity, dropping oldest")
			records = records[dropped:]
		}
		t.pending = records
		return
	}
	t.pending = nil

	for key := range affectedDays(records) {
		if err := t.repo.RollupDay(ctx, key.workspaceID, key.day); err != nil {
			t.logger.WithFields(logrus.Fields{
				"workspace_id": key.workspaceID,
				"date":         key.day.Format("2006-01-02"),
			}).WithError(err).Warn("Daily rollup failed")
		}
	}

	t.logger.WithField("count", len(records)).Debug("Flushed usage batch")
}

type dayKey struct {
	workspaceID string
	day         time.Time
}

func affectedDays(records []models.UsageRecord) map[dayKey]struct{} {
	days := make(map[dayKey]struct{})
	for _, record := range records {
		days[dayKey{
			workspaceID: record.WorkspaceID,
			day:         record.CreatedAt.UTC().Truncate(24 * time.Hour),
		}] = struct{}{}
	}
	return days
}
