package analysis

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInMemoryEventStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	for i := int64(1); i <= 3; i++ {
		if err := store.Append(ctx, &Event{
			RoomID: 1, MessageID: i,
			Keywords: []KeywordCount{{Keyword: "word", Count: 1}},
			Topic:    TopicOther, Emotion: EmotionNeutral,
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := store.RecentByRoom(ctx, 1, 2)
	if err != nil {
		t.Fatalf("RecentByRoom failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].MessageID != 3 || events[1].MessageID != 2 {
		t.Errorf("unexpected order: %d, %d", events[0].MessageID, events[1].MessageID)
	}

	other, _ := store.RecentByRoom(ctx, 2, 10)
	if len(other) != 0 {
		t.Errorf("expected empty result for unknown room, got %d", len(other))
	}
}

func TestInMemoryRecordStoreHistory(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryRecordStore()
	base := time.Now().Add(-time.Hour)

	payload, _ := json.Marshal(map[string]int{"n": 1})
	for i := 0; i < 5; i++ {
		recordType := RecordKeywordFrequency
		if i%2 == 1 {
			recordType = RecordTimePattern
		}
		if err := store.Append(ctx, &Record{
			RoomID: 1, Type: recordType, Payload: payload,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	t.Run("filters_by_type", func(t *testing.T) {
		records, total, err := store.History(ctx, 1, HistoryFilter{Type: RecordKeywordFrequency, Size: 10})
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if total != 3 || len(records) != 3 {
			t.Errorf("expected 3 keyword records, got total=%d len=%d", total, len(records))
		}
		// Newest first.
		for i := 1; i < len(records); i++ {
			if records[i-1].CreatedAt.Before(records[i].CreatedAt) {
				t.Error("records not ordered newest first")
			}
		}
	})

	t.Run("filters_by_window", func(t *testing.T) {
		_, total, err := store.History(ctx, 1, HistoryFilter{
			From: base.Add(90 * time.Second),
			To:   base.Add(4 * time.Minute),
			Size: 10,
		})
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if total != 3 {
			t.Errorf("expected 3 records in window, got %d", total)
		}
	})

	t.Run("pages", func(t *testing.T) {
		first, total, err := store.History(ctx, 1, HistoryFilter{Page: 0, Size: 2})
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if total != 5 || len(first) != 2 {
			t.Fatalf("expected page of 2 from 5, got total=%d len=%d", total, len(first))
		}
		last, _, _ := store.History(ctx, 1, HistoryFilter{Page: 2, Size: 2})
		if len(last) != 1 {
			t.Errorf("expected final page of 1, got %d", len(last))
		}
		empty, _, _ := store.History(ctx, 1, HistoryFilter{Page: 5, Size: 2})
		if len(empty) != 0 {
			t.Errorf("expected empty page past the end, got %d", len(empty))
		}
	})
}
