package analysis

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Record types for durable aggregate snapshots.
const (
	RecordKeywordFrequency    = "KEYWORD_FREQUENCY"
	RecordTimePattern         = "TIME_PATTERN"
	RecordUserParticipation   = "USER_PARTICIPATION"
	RecordEmotionAnalysis     = "EMOTION_ANALYSIS"
	RecordTopicClassification = "TOPIC_CLASSIFICATION"
)

// Event is the immutable per-message analysis outcome. Events are only ever
// appended; a correction is a new event, never an update.
type Event struct {
	ID        int64          `json:"id"`
	RoomID    int64          `json:"roomId"`
	MessageID int64          `json:"messageId"`
	Keywords  []KeywordCount `json:"keywords"`
	Topic     string         `json:"topic"`
	Emotion   string         `json:"emotion"`
	Fallback  bool           `json:"fallback"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventStore persists per-message analysis events.
type EventStore interface {
	Append(ctx context.Context, event *Event) error

	// RecentByRoom returns up to limit most recent events, newest first.
	RecentByRoom(ctx context.Context, roomID int64, limit int) ([]*Event, error)
}

// Record is a durable aggregate snapshot (threshold push, sweep, or hourly
// job output). Append-only like events.
type Record struct {
	ID               int64           `json:"id"`
	RoomID           int64           `json:"roomId"`
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	MessageCount     int             `json:"messageCount"`
	ParticipantCount int             `json:"participantCount"`
	PeriodStart      *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd        *time.Time      `json:"periodEnd,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// DefaultHistoryPageSize is the record page size when a query does not set one.
const DefaultHistoryPageSize = 20

// HistoryFilter narrows a record history query. Zero values are unset.
type HistoryFilter struct {
	Type string
	From time.Time
	To   time.Time
	Page int
	Size int
}

// RecordStore persists aggregate snapshot records.
type RecordStore interface {
	Append(ctx context.Context, record *Record) error

	// History returns one page of records, newest first, plus the total
	// number of matches.
	History(ctx context.Context, roomID int64, filter HistoryFilter) ([]*Record, int, error)
}

// InMemoryEventStore is an in-memory EventStore.
// Thread-safe via RWMutex.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[int64][]*Event // roomID -> events in append order
	nextID int64
}

// NewInMemoryEventStore creates an empty event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: make(map[int64][]*Event),
		nextID: 1,
	}
}

// Append implements EventStore.
func (s *InMemoryEventStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == 0 {
		event.ID = s.nextID
		s.nextID++
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	eventCopy := *event
	s.events[event.RoomID] = append(s.events[event.RoomID], &eventCopy)
	return nil
}

// RecentByRoom implements EventStore.
func (s *InMemoryEventStore) RecentByRoom(_ context.Context, roomID int64, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[roomID]
	result := make([]*Event, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		eventCopy := *all[i]
		result = append(result, &eventCopy)
	}
	return result, nil
}

// InMemoryRecordStore is an in-memory RecordStore.
// Thread-safe via RWMutex.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records map[int64][]*Record
	nextID  int64
}

// NewInMemoryRecordStore creates an empty record store.
func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{
		records: make(map[int64][]*Record),
		nextID:  1,
	}
}

// Append implements RecordStore.
func (s *InMemoryRecordStore) Append(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == 0 {
		record.ID = s.nextID
		s.nextID++
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	recordCopy := *record
	s.records[record.RoomID] = append(s.records[record.RoomID], &recordCopy)
	return nil
}

// History implements RecordStore.
func (s *InMemoryRecordStore) History(_ context.Context, roomID int64, filter HistoryFilter) ([]*Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*Record, 0)
	for _, record := range s.records[roomID] {
		if filter.Type != "" && record.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && record.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && record.CreatedAt.After(filter.To) {
			continue
		}
		recordCopy := *record
		matches = append(matches, &recordCopy)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	total := len(matches)
	size := filter.Size
	if size <= 0 {
		size = DefaultHistoryPageSize
	}
	start := filter.Page * size
	if start >= total {
		return []*Record{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}
