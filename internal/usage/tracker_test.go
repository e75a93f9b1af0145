package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/metrics"
	"github.com/tesseract-hub/translation-engine/internal/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

type memUsageRepo struct {
	mu         sync.Mutex
	records    []models.UsageRecord
	rollups    map[string][]time.Time
	failNext   int
	insertCh   chan int
	rollupCh   chan string
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{
		rollups:  make(map[string][]time.Time),
		insertCh: make(chan int, 64),
		rollupCh: make(chan string, 64),
	}
}

func (r *memUsageRepo) InsertBatch(ctx context.Context, records []models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return errors.New("database unavailable")
	}
	r.records = append(r.records, records...)
	select {
	case r.insertCh <- len(records):
	default:
	}
	return nil
}

func (r *memUsageRepo) RollupDay(ctx context.Context, workspaceID string, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollups[workspaceID] = append(r.rollups[workspaceID], date)
	select {
	case r.rollupCh <- workspaceID:
	default:
	}
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

func (r *memUsageRepo) stored() []models.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.UsageRecord, len(r.records))
	copy(out, r.records)
	return out
}

func record(workspaceID string) models.UsageRecord {
	return models.UsageRecord{
		WorkspaceID: workspaceID,
		UserID:      "u1",
		Provider:    "deepl",
		SourceLang:  "en",
		TargetLang:  "de",
		Characters:  42,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	repo := newMemUsageRepo()
	tracker := NewTracker(repo, Config{
		FlushBatchSize: 3,
		FlushInterval:  time.Hour, // only the size trigger should fire
		QueueCapacity:  16,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	for i := 0; i < 3; i++ {
		tracker.Track(record("ws1"))
	}

	select {
	case n := <-repo.insertCh:
		if n != 3 {
			t.Errorf("flushed %d records, want 3", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch-size flush never happened")
	}
}

func TestFlushOnInterval(t *testing.T) {
	repo := newMemUsageRepo()
	tracker := NewTracker(repo, Config{
		FlushBatchSize: 100, // never reached
		FlushInterval:  20 * time.Millisecond,
		QueueCapacity:  16,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	tracker.Track(record("ws1"))

	select {
	case n := <-repo.insertCh:
		if n != 1 {
			t.Errorf("flushed %d records, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interval flush never happened")
	}
}

func TestFailedFlushIsRetried(t *testing.T) {
	repo := newMemUsageRepo()
	repo.failNext = 1
	tracker := NewTracker(repo, Config{
		FlushBatchSize: 2,
		FlushInterval:  20 * time.Millisecond,
		QueueCapacity:  16,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	tracker.Track(record("ws1"))
	tracker.Track(record("ws1"))

	// First flush fails; the records are retried by a later flush.
	select {
	case n := <-repo.insertCh:
		if n != 2 {
			t.Errorf("retried flush wrote %d records, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry flush never happened")
	}

	if got := len(repo.stored()); got != 2 {
		t.Errorf("stored = %d records, want 2", got)
	}
}

func TestRollupPerWorkspaceAndDay(t *testing.T) {
	repo := newMemUsageRepo()
	tracker := NewTracker(repo, Config{
		FlushBatchSize: 4,
		FlushInterval:  time.Hour,
		QueueCapacity:  16,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	today := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	yesterday := today.Add(-24 * time.Hour)

	a := record("ws1")
	a.CreatedAt = today
	b := record("ws1")
	b.CreatedAt = today.Add(time.Hour)
	c := record("ws1")
	c.CreatedAt = yesterday
	d := record("ws2")
	d.CreatedAt = today

	for _, rec := range []models.UsageRecord{a, b, c, d} {
		tracker.Track(rec)
	}

	deadline := time.After(2 * time.Second)
	seen := 0
	for seen < 3 {
		select {
		case <-repo.rollupCh:
			seen++
		case <-deadline:
			t.Fatalf("saw %d rollups, want 3", seen)
		}
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if got := len(repo.rollups["ws1"]); got != 2 {
		t.Errorf("ws1 rolled up %d days, want 2 (today and yesterday)", got)
	}
	if got := len(repo.rollups["ws2"]); got != 1 {
		t.Errorf("ws2 rolled up %d days, want 1", got)
	}
}

func TestShutdownDrainsQueue(t *testing.T) {
	repo := newMemUsageRepo()
	tracker := NewTracker(repo, Config{
		FlushBatchSize: 100,
		FlushInterval:  time.Hour,
		QueueCapacity:  16,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx)
		close(done)
	}()

	tracker.Track(record("ws1"))
	tracker.Track(record("ws1"))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if got := len(repo.stored()); got != 2 {
		t.Errorf("stored = %d records after shutdown, want 2", got)
	}
}

func TestTrackNeverBlocksWhenFull(t *testing.T) {
	repo := newMemUsageRepo()
	tracker := NewTracker(repo, Config{
		FlushBatchSize: 100,
		FlushInterval:  time.Hour,
		QueueCapacity:  2,
	}, testLogger())
	// No Run goroutine: the queue fills up and stays full.

	before := testutil.ToFloat64(metrics.UsageRecordsDropped)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			tracker.Track(record("ws1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Track blocked on a full queue")
	}

	// Two records fit in the queue; the other eight are dropped and counted.
	if dropped := testutil.ToFloat64(metrics.UsageRecordsDropped) - before; dropped != 8 {
		t.Errorf("dropped counter moved by %v, want 8", dropped)
	}
}

func TestOverCapacityRetryBacklogCountsDrops(t *testing.T) {
	repo := newMemUsageRepo()
	repo.failNext = 1
	tracker := NewTracker(repo, Config{
		FlushBatchSize: 100,
		FlushInterval:  time.Hour,
		QueueCapacity:  2,
	}, testLogger())

	before := testutil.ToFloat64(metrics.UsageRecordsDropped)

	// Flush five records into a failing store; the retry backlog keeps only
	// the newest two.
	batch := []models.UsageRecord{
		record("ws1"), record("ws1"), record("ws1"), record("ws1"), record("ws1"),
	}
	tracker.flush(&batch)

	if dropped := testutil.ToFloat64(metrics.UsageRecordsDropped) - before; dropped != 3 {
		t.Errorf("dropped counter moved by %v, want 3", dropped)
	}
	if got := len(tracker.pending); got != 2 {
		t.Errorf("pending backlog = %d, want 2", got)
	}
}

func TestAffectedDaysTruncatesToUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	records := []models.UsageRecord{
		{WorkspaceID: "ws1", CreatedAt: time.Date(2025, 6, 11, 1, 30, 0, 0, loc)},  // 2025-06-10 UTC
		{WorkspaceID: "ws1", CreatedAt: time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC)},
	}

	days := affectedDays(records)
	if len(days) != 1 {
		t.Fatalf("affected days = %d, want 1 (both fall on the same UTC day)", len(days))
	}
	for key := range days {
		if key.day != time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC) {
			t.Errorf("day = %v, want 2025-06-10 UTC", key.day)
		}
	}
}
