package analysis

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/ni-heemang/chat-flow/internal/chat"
)

func analyzeInto(t *testing.T, agg *Aggregator, roomID int64, user, content string, ts time.Time) {
	t.Helper()
	result, err := NewHeuristicAnalyzer().Analyze(context.Background(), content)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	agg.Record(roomID, user, result, ts)
}

func TestAggregatorFirstMessageScenario(t *testing.T) {
	agg := NewAggregator(chat.NewInMemoryMessageRepository())

	// Room 42 starts empty; "hello world hello" from alice.
	analyzeInto(t, agg, 42, "alice", "hello world hello", time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC))

	snapshot := agg.Snapshot(42)
	if len(snapshot.Keywords) != 2 {
		t.Fatalf("expected 2 keywords, got %v", snapshot.Keywords)
	}
	if snapshot.Keywords[0].Keyword != "hello" || snapshot.Keywords[0].Count != 2 {
		t.Errorf("expected hello:2, got %+v", snapshot.Keywords[0])
	}
	if snapshot.Keywords[1].Keyword != "world" || snapshot.Keywords[1].Count != 1 {
		t.Errorf("expected world:1, got %+v", snapshot.Keywords[1])
	}
	if len(snapshot.Participation) != 1 || snapshot.Participation[0].Username != "alice" || snapshot.Participation[0].MessageCount != 1 {
		t.Errorf("expected alice:1, got %v", snapshot.Participation)
	}
	if snapshot.Hourly[14] != 1 {
		t.Errorf("expected hour 14 bucket incremented, got %v", snapshot.Hourly)
	}
}

func TestAggregatorTopKeywordsOrdering(t *testing.T) {
	agg := NewAggregator(chat.NewInMemoryMessageRepository())
	now := time.Now()

	for i := 0; i < 5; i++ {
		analyzeInto(t, agg, 1, "alice", "kubernetes", now)
	}
	for i := 0; i < 3; i++ {
		analyzeInto(t, agg, 1, "bob", "deployment", now)
	}
	analyzeInto(t, agg, 1, "bob", "rollback", now)

	top := agg.TopKeywords(1, 10)
	for i := 1; i < len(top); i++ {
		if top[i-1].Count < top[i].Count {
			t.Fatalf("top keywords not non-increasing: %v", top)
		}
	}
	if top[0].Keyword != "kubernetes" || top[0].Count != 5 {
		t.Errorf("expected kubernetes:5 first, got %+v", top[0])
	}

	limited := agg.TopKeywords(1, 2)
	if len(limited) != 2 {
		t.Errorf("expected top-2 limit, got %d", len(limited))
	}
}

func TestAggregatorParticipationByDisplayName(t *testing.T) {
	agg := NewAggregator(chat.NewInMemoryMessageRepository())
	now := time.Now()

	// Same account, nickname present: the display identity is the key.
	analyzeInto(t, agg, 1, "Alice", "first message", now)
	analyzeInto(t, agg, 1, "Alice", "second message", now)

	snapshot := agg.Snapshot(1)
	if len(snapshot.Participation) != 1 || snapshot.Participation[0].MessageCount != 2 {
		t.Errorf("expected Alice:2, got %v", snapshot.Participation)
	}
}

func TestAggregatorRebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("replays_history", func(t *testing.T) {
		messages := chat.NewInMemoryMessageRepository()
		base := time.Now().Add(-time.Hour)
		for i, content := range []string{"kubernetes deploy", "kubernetes rollback", "coffee break"} {
			if _, err := messages.Append(ctx, &chat.Message{
				RoomID: 1, Username: "alice", Content: content,
				Type: chat.MessageTypeText, Timestamp: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		agg := NewAggregator(messages)
		if err := agg.Rebuild(ctx, 1, 0); err != nil {
			t.Fatalf("Rebuild failed: %v", err)
		}

		snapshot := agg.Snapshot(1)
		if snapshot.MessageCount != 3 {
			t.Errorf("expected 3 messages replayed, got %d", snapshot.MessageCount)
		}
		if snapshot.Keywords[0].Keyword != "kubernetes" || snapshot.Keywords[0].Count != 2 {
			t.Errorf("expected kubernetes:2 first, got %v", snapshot.Keywords)
		}
	})

	t.Run("idempotent_without_new_messages", func(t *testing.T) {
		messages := chat.NewInMemoryMessageRepository()
		if _, err := messages.Append(ctx, &chat.Message{
			RoomID: 1, Username: "alice", Content: "hello world hello",
			Type: chat.MessageTypeText, Timestamp: time.Now().Add(-time.Minute),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		agg := NewAggregator(messages)
		if err := agg.Rebuild(ctx, 1, 0); err != nil {
			t.Fatalf("first Rebuild failed: %v", err)
		}
		first := agg.Snapshot(1)
		if err := agg.Rebuild(ctx, 1, 0); err != nil {
			t.Fatalf("second Rebuild failed: %v", err)
		}
		second := agg.Snapshot(1)

		if !reflect.DeepEqual(first.Keywords, second.Keywords) ||
			!reflect.DeepEqual(first.Participation, second.Participation) ||
			first.MessageCount != second.MessageCount {
			t.Errorf("rebuild not idempotent: %+v vs %+v", first, second)
		}
	})

	t.Run("replaces_live_counters", func(t *testing.T) {
		messages := chat.NewInMemoryMessageRepository()
		if _, err := messages.Append(ctx, &chat.Message{
			RoomID: 1, Username: "alice", Content: "durable message",
			Type: chat.MessageTypeText, Timestamp: time.Now().Add(-time.Minute),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		agg := NewAggregator(messages)
		// Live counters drifted: record a message that is not in history.
		analyzeInto(t, agg, 1, "ghost", "phantom entry", time.Now())

		if err := agg.Rebuild(ctx, 1, 0); err != nil {
			t.Fatalf("Rebuild failed: %v", err)
		}
		snapshot := agg.Snapshot(1)
		if snapshot.MessageCount != 1 {
			t.Errorf("expected rebuilt state to replace drifted counters, got %d messages", snapshot.MessageCount)
		}
		for _, user := range snapshot.Participation {
			if user.Username == "ghost" {
				t.Error("rebuilt state still contains pre-rebuild entries")
			}
		}
	})

	t.Run("days_bound_limits_replay", func(t *testing.T) {
		messages := chat.NewInMemoryMessageRepository()
		old := time.Now().AddDate(0, 0, -10)
		recent := time.Now().Add(-time.Hour)
		for _, entry := range []struct {
			content string
			ts      time.Time
		}{{"ancient history", old}, {"fresh news", recent}} {
			if _, err := messages.Append(ctx, &chat.Message{
				RoomID: 1, Username: "alice", Content: entry.content,
				Type: chat.MessageTypeText, Timestamp: entry.ts,
			}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}

		agg := NewAggregator(messages)
		if err := agg.Rebuild(ctx, 1, 7); err != nil {
			t.Fatalf("Rebuild failed: %v", err)
		}
		if got := agg.Snapshot(1).MessageCount; got != 1 {
			t.Errorf("expected only messages within 7 days, got %d", got)
		}
	})
}

func TestAggregatorRebuildAll(t *testing.T) {
	ctx := context.Background()
	messages := chat.NewInMemoryMessageRepository()
	for roomID := int64(1); roomID <= 3; roomID++ {
		if _, err := messages.Append(ctx, &chat.Message{
			RoomID: roomID, Username: "alice",
			Content: fmt.Sprintf("message for room %d", roomID),
			Type:    chat.MessageTypeText, Timestamp: time.Now().Add(-time.Minute),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	agg := NewAggregator(messages)
	rebuilt, err := agg.RebuildAll(ctx, time.Now().AddDate(0, 0, -7), 0)
	if err != nil {
		t.Fatalf("RebuildAll failed: %v", err)
	}
	if len(rebuilt) != 3 {
		t.Errorf("expected 3 rooms rebuilt, got %v", rebuilt)
	}
	if rooms := agg.ActiveRooms(); len(rooms) != 3 {
		t.Errorf("expected 3 active rooms, got %v", rooms)
	}
}

func TestAggregatorClear(t *testing.T) {
	agg := NewAggregator(chat.NewInMemoryMessageRepository())
	analyzeInto(t, agg, 1, "alice", "some message", time.Now())

	agg.Clear(1)
	snapshot := agg.Snapshot(1)
	if snapshot.MessageCount != 0 || len(snapshot.Keywords) != 0 {
		t.Errorf("expected empty snapshot after Clear, got %+v", snapshot)
	}
	if rooms := agg.ActiveRooms(); len(rooms) != 0 {
		t.Errorf("cleared room still active: %v", rooms)
	}
}
