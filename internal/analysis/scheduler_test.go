package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/ni-heemang/chat-flow/internal/bus"
	"github.com/ni-heemang/chat-flow/internal/chat"
)

type schedulerFixture struct {
	scheduler  *Scheduler
	aggregator *Aggregator
	records    *InMemoryRecordStore
	bus        *bus.Bus
	pushes     *[]AnalysisData
	clock      *time.Time
}

func newSchedulerFixture(t *testing.T, roomID int64) *schedulerFixture {
	t.Helper()

	b := bus.New()
	aggregator := NewAggregator(chat.NewInMemoryMessageRepository())
	records := NewInMemoryRecordStore()
	notifier := NewNotifier(b, aggregator)

	pushes := &[]AnalysisData{}
	b.Subscribe(bus.AnalysisTopic(roomID), func(event any) {
		if data, ok := event.(*AnalysisData); ok {
			*pushes = append(*pushes, *data)
		}
	})

	scheduler := NewScheduler(newTestLogger(), b, notifier, aggregator, records, NewMetrics(),
		SchedulerConfig{
			PushInterval:     10 * time.Second,
			MessageThreshold: 10,
			SweepInterval:    30 * time.Second,
			SnapshotInterval: time.Hour,
		})

	now := time.Now()
	clock := &now
	scheduler.now = func() time.Time { return *clock }

	return &schedulerFixture{
		scheduler:  scheduler,
		aggregator: aggregator,
		records:    records,
		bus:        b,
		pushes:     pushes,
		clock:      clock,
	}
}

func TestSchedulerFirstChangePushes(t *testing.T) {
	f := newSchedulerFixture(t, 1)

	f.scheduler.OnStatsChanged(1)

	if len(*f.pushes) != 1 {
		t.Fatalf("expected immediate push for untracked room, got %d", len(*f.pushes))
	}
	if (*f.pushes)[0].Type != PushFullUpdate {
		t.Errorf("expected FULL_UPDATE, got %s", (*f.pushes)[0].Type)
	}
}

func TestSchedulerMessageThreshold(t *testing.T) {
	f := newSchedulerFixture(t, 1)

	// Seed the tracker so the unset-lastPush rule does not apply.
	f.scheduler.ForcePush(1)
	baseline := len(*f.pushes)

	// Nine changes inside the push interval: below the threshold, no push.
	for i := 0; i < 9; i++ {
		f.scheduler.OnStatsChanged(1)
	}
	if got := len(*f.pushes) - baseline; got != 0 {
		t.Fatalf("nine pending messages must not push, got %d pushes", got)
	}

	// The tenth crosses the threshold.
	f.scheduler.OnStatsChanged(1)
	if got := len(*f.pushes) - baseline; got != 1 {
		t.Errorf("tenth pending message must push exactly once, got %d", got)
	}
}

func TestSchedulerIntervalElapsed(t *testing.T) {
	f := newSchedulerFixture(t, 1)

	f.scheduler.ForcePush(1)
	baseline := len(*f.pushes)

	f.scheduler.OnStatsChanged(1)
	if got := len(*f.pushes) - baseline; got != 0 {
		t.Fatalf("change inside the interval must not push, got %d", got)
	}

	*f.clock = f.clock.Add(11 * time.Second)
	f.scheduler.OnStatsChanged(1)
	if got := len(*f.pushes) - baseline; got != 1 {
		t.Errorf("change after the interval must push, got %d", got)
	}
}

func TestSchedulerResetOnPush(t *testing.T) {
	f := newSchedulerFixture(t, 1)

	f.scheduler.ForcePush(1)
	baseline := len(*f.pushes)

	// Cross the threshold, which resets pending to zero.
	for i := 0; i < 10; i++ {
		f.scheduler.OnStatsChanged(1)
	}
	if got := len(*f.pushes) - baseline; got != 1 {
		t.Fatalf("expected one threshold push, got %d", got)
	}

	// Nine more inside the same interval: counter restarted, no push.
	for i := 0; i < 9; i++ {
		f.scheduler.OnStatsChanged(1)
	}
	if got := len(*f.pushes) - baseline; got != 1 {
		t.Errorf("pending counter must reset after a push, got %d pushes", got)
	}
}

func TestSchedulerSweep(t *testing.T) {
	f := newSchedulerFixture(t, 1)

	f.scheduler.ForcePush(1)
	baseline := len(*f.pushes)

	f.scheduler.OnStatsChanged(1)
	f.scheduler.Sweep()
	if got := len(*f.pushes) - baseline; got != 1 {
		t.Fatalf("sweep must flush pending rooms, got %d pushes", got)
	}

	// Nothing pending: sweep is a no-op.
	f.scheduler.Sweep()
	if got := len(*f.pushes) - baseline; got != 1 {
		t.Errorf("sweep without pending changes must not push, got %d", got)
	}
}

func TestSchedulerSnapshotAll(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	ctx := context.Background()

	analyzeInto(t, f.aggregator, 1, "alice", "kubernetes deploy finished", time.Now())
	before := f.aggregator.Snapshot(1).MessageCount

	f.scheduler.SnapshotAll(ctx)

	records, total, err := f.records.History(ctx, 1, HistoryFilter{Size: 50})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5 snapshot records, got %d", total)
	}
	types := make(map[string]bool)
	for _, record := range records {
		types[record.Type] = true
		if record.PeriodStart == nil || record.PeriodEnd == nil {
			t.Errorf("snapshot record missing period: %+v", record)
		}
	}
	for _, want := range []string{
		RecordKeywordFrequency, RecordUserParticipation, RecordTimePattern,
		RecordTopicClassification, RecordEmotionAnalysis,
	} {
		if !types[want] {
			t.Errorf("missing snapshot record type %s", want)
		}
	}

	// Snapshots never clear in-memory state.
	if after := f.aggregator.Snapshot(1).MessageCount; after != before {
		t.Errorf("snapshot mutated in-memory state: %d -> %d", before, after)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	f := newSchedulerFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.scheduler.Start(ctx)
	f.scheduler.Stop()
	// Stop is idempotent.
	f.scheduler.Stop()
}
