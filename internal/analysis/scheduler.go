package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ni-heemang/chat-flow/internal/bus"
)

// SchedulerConfig holds the push thresholds and job intervals.
type SchedulerConfig struct {
	// PushInterval is the minimum age of the last push before the next
	// stat change triggers another.
	PushInterval time.Duration
	// MessageThreshold forces a push once this many messages accumulated
	// since the last one.
	MessageThreshold int
	// SweepInterval is how often pending rooms are flushed regardless of
	// thresholds.
	SweepInterval time.Duration
	// SnapshotInterval is how often aggregates are serialized to durable
	// records.
	SnapshotInterval time.Duration
}

// DefaultSchedulerConfig returns the production thresholds.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PushInterval:     10 * time.Second,
		MessageThreshold: 10,
		SweepInterval:    30 * time.Second,
		SnapshotInterval: time.Hour,
	}
}

// tracker is the per-room push state: when stats last went out and how many
// messages arrived since.
type tracker struct {
	lastPush time.Time
	pending  int
}

// Scheduler batches stat pushes. Every stat change bumps the room's pending
// counter; a push happens when the room was never pushed, when the push
// interval elapsed, or when the pending counter hits the message threshold.
// A periodic sweep flushes any room with pending changes, and an hourly job
// snapshots aggregates into durable records without clearing memory.
type Scheduler struct {
	logger   *slog.Logger
	notifier *Notifier

	aggregator *Aggregator
	records    RecordStore
	metrics    *Metrics
	config     SchedulerConfig

	mu       sync.Mutex
	trackers map[int64]*tracker
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler wires the scheduler and subscribes it to stat changes.
func NewScheduler(
	logger *slog.Logger,
	b *bus.Bus,
	notifier *Notifier,
	aggregator *Aggregator,
	records RecordStore,
	metrics *Metrics,
	config SchedulerConfig,
) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.PushInterval <= 0 {
		config.PushInterval = defaults.PushInterval
	}
	if config.MessageThreshold <= 0 {
		config.MessageThreshold = defaults.MessageThreshold
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = defaults.SnapshotInterval
	}

	s := &Scheduler{
		logger:     logger,
		notifier:   notifier,
		aggregator: aggregator,
		records:    records,
		metrics:    metrics,
		config:     config,
		trackers:   make(map[int64]*tracker),
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	b.Subscribe(TopicStatsChanged, func(event any) {
		if changed, ok := event.(StatsChanged); ok {
			s.OnStatsChanged(changed.RoomID)
		}
	})
	return s
}

// OnStatsChanged registers one stat change for the room and pushes when a
// threshold is crossed.
func (s *Scheduler) OnStatsChanged(roomID int64) {
	s.mu.Lock()
	t, ok := s.trackers[roomID]
	if !ok {
		t = &tracker{}
		s.trackers[roomID] = t
	}
	t.pending++

	if !s.shouldPushLocked(t) {
		s.mu.Unlock()
		return
	}
	trigger := TriggerInterval
	if t.pending >= s.config.MessageThreshold {
		trigger = TriggerThreshold
	}
	t.lastPush = s.now()
	t.pending = 0
	s.mu.Unlock()

	s.push(roomID, trigger)
}

// shouldPushLocked decides whether the room is due. Caller holds s.mu.
func (s *Scheduler) shouldPushLocked(t *tracker) bool {
	if t.lastPush.IsZero() {
		return true
	}
	if s.now().Sub(t.lastPush) >= s.config.PushInterval {
		return true
	}
	if t.pending >= s.config.MessageThreshold {
		return true
	}
	return false
}

// ForcePush flushes a room immediately and resets its tracker. Used by the
// manual rebuild endpoints.
func (s *Scheduler) ForcePush(roomID int64) {
	s.mu.Lock()
	t, ok := s.trackers[roomID]
	if !ok {
		t = &tracker{}
		s.trackers[roomID] = t
	}
	t.lastPush = s.now()
	t.pending = 0
	s.mu.Unlock()

	s.push(roomID, TriggerManual)
}

// Forget drops a room's tracker. Called when a room's stats are cleared.
func (s *Scheduler) Forget(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, roomID)
}

func (s *Scheduler) push(roomID int64, trigger string) {
	s.notifier.PushFull(roomID)
	s.metrics.RecordPush(trigger)
}

// Start launches the sweep and snapshot tickers.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.runSweep(ctx)
	go s.runSnapshots(ctx)
	s.logger.Info("update scheduler started",
		"push_interval", s.config.PushInterval,
		"message_threshold", s.config.MessageThreshold,
		"sweep_interval", s.config.SweepInterval,
		"snapshot_interval", s.config.SnapshotInterval)
}

// Stop halts the tickers and waits for them to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) runSweep(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep flushes every room with pending changes.
func (s *Scheduler) Sweep() {
	s.mu.Lock()
	due := make([]int64, 0)
	for roomID, t := range s.trackers {
		if t.pending > 0 {
			t.lastPush = s.now()
			t.pending = 0
			due = append(due, roomID)
		}
	}
	s.mu.Unlock()

	for _, roomID := range due {
		s.push(roomID, TriggerSweep)
	}
	if len(due) > 0 {
		s.logger.Debug("sweep pushed pending rooms", "rooms", len(due))
	}
}

func (s *Scheduler) runSnapshots(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SnapshotAll(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SnapshotAll serializes current aggregates for every active room into
// durable records. In-memory state is left untouched. Per-room failures are
// logged and the job continues with the next room.
func (s *Scheduler) SnapshotAll(ctx context.Context) {
	periodEnd := s.now()
	periodStart := periodEnd.Add(-s.config.SnapshotInterval)

	for _, roomID := range s.aggregator.ActiveRooms() {
		if err := s.snapshotRoom(ctx, roomID, periodStart, periodEnd); err != nil {
			s.metrics.RecordPersistenceFailure()
			s.logger.Error("failed to snapshot room", "room_id", roomID, "error", err)
		}
	}
}

func (s *Scheduler) snapshotRoom(ctx context.Context, roomID int64, periodStart, periodEnd time.Time) error {
	snapshot := s.aggregator.Snapshot(roomID)

	payloads := []struct {
		recordType string
		payload    any
	}{
		{RecordKeywordFrequency, BuildKeywordAnalysis(snapshot)},
		{RecordUserParticipation, BuildParticipationAnalysis(snapshot)},
		{RecordTimePattern, BuildHourlyAnalysis(snapshot)},
		{RecordTopicClassification, snapshot.Topics},
		{RecordEmotionAnalysis, snapshot.Emotions},
	}

	for _, entry := range payloads {
		data, err := json.Marshal(entry.payload)
		if err != nil {
			return err
		}
		if err := s.records.Append(ctx, &Record{
			RoomID:           roomID,
			Type:             entry.recordType,
			Payload:          data,
			MessageCount:     snapshot.MessageCount,
			ParticipantCount: len(snapshot.Participation),
			PeriodStart:      &periodStart,
			PeriodEnd:        &periodEnd,
		}); err != nil {
			return err
		}
	}
	return nil
}
