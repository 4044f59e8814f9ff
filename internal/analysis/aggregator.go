package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ni-heemang/chat-flow/internal/chat"
)

// ParticipantStat is one user's message count, keyed by display identity.
type ParticipantStat struct {
	Username     string `json:"username"`
	MessageCount int    `json:"messageCount"`
}

// HourlyStat is the message count for one hour-of-day bucket.
type HourlyStat struct {
	Hour         int `json:"hour"`
	MessageCount int `json:"messageCount"`
}

// LabelStat is one topic or emotion label tally.
type LabelStat struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// RoomSnapshot is a point-in-time copy of a room's aggregates.
type RoomSnapshot struct {
	RoomID        int64
	Keywords      []KeywordCount // non-increasing by count
	TotalKeywords int
	Participation []ParticipantStat // non-increasing by count
	Hourly        [24]int
	Topics        []LabelStat
	Emotions      []LabelStat
	MessageCount  int
	LastActivity  time.Time
}

// roomStats is one room's mutable aggregate state. Each room carries its own
// lock so rooms never contend with each other.
type roomStats struct {
	mu            sync.Mutex
	keywords      map[string]int
	participation map[string]int
	hourly        [24]int
	topics        map[string]int
	emotions      map[string]int
	messageCount  int
	lastActivity  time.Time
}

func newRoomStats() *roomStats {
	return &roomStats{
		keywords:      make(map[string]int),
		participation: make(map[string]int),
		topics:        make(map[string]int),
		emotions:      make(map[string]int),
	}
}

func (s *roomStats) apply(displayName string, result *Result, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kw := range result.Keywords {
		s.keywords[kw.Keyword] += kw.Count
	}
	s.participation[displayName]++
	s.hourly[ts.Hour()]++
	if result.Topic != "" {
		s.topics[result.Topic]++
	}
	if result.Emotion != "" {
		s.emotions[result.Emotion]++
	}
	s.messageCount++
	if ts.After(s.lastActivity) {
		s.lastActivity = ts
	}
}

// Aggregator keeps per-room in-memory statistics, replayable from the
// durable message history. State is a sync.Map of room ID to *roomStats;
// rebuilds swap a freshly built state in atomically so readers never observe
// a half-cleared room.
type Aggregator struct {
	states   sync.Map // int64 -> *roomStats
	messages chat.MessageRepository
	fallback *HeuristicAnalyzer
}

// NewAggregator creates an aggregator that rebuilds from the given message
// history.
func NewAggregator(messages chat.MessageRepository) *Aggregator {
	return &Aggregator{
		messages: messages,
		fallback: NewHeuristicAnalyzer(),
	}
}

func (a *Aggregator) stats(roomID int64) *roomStats {
	if state, ok := a.states.Load(roomID); ok {
		return state.(*roomStats)
	}
	state, _ := a.states.LoadOrStore(roomID, newRoomStats())
	return state.(*roomStats)
}

// Record merges one analysis result into the room's aggregates.
func (a *Aggregator) Record(roomID int64, displayName string, result *Result, ts time.Time) {
	a.stats(roomID).apply(displayName, result, ts)
}

// Snapshot returns a point-in-time copy of a room's aggregates. An unknown
// room yields an empty snapshot.
func (a *Aggregator) Snapshot(roomID int64) *RoomSnapshot {
	snapshot := &RoomSnapshot{RoomID: roomID}
	state, ok := a.states.Load(roomID)
	if !ok {
		return snapshot
	}
	return state.(*roomStats).snapshot(roomID)
}

func (s *roomStats) snapshot(roomID int64) *RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &RoomSnapshot{
		RoomID:        roomID,
		TotalKeywords: len(s.keywords),
		Keywords:      sortedKeywords(s.keywords),
		Participation: sortedParticipants(s.participation),
		Hourly:        s.hourly,
		Topics:        sortedLabels(s.topics),
		Emotions:      sortedLabels(s.emotions),
		MessageCount:  s.messageCount,
		LastActivity:  s.lastActivity,
	}
}

// TopKeywords returns up to n keywords ordered non-increasing by count.
func (a *Aggregator) TopKeywords(roomID int64, n int) []KeywordCount {
	keywords := a.Snapshot(roomID).Keywords
	if len(keywords) > n {
		keywords = keywords[:n]
	}
	return keywords
}

// Rebuild replays the room's message history into a fresh state and swaps
// it in atomically. A days bound of zero replays the full history. Replay
// uses the heuristic analyzer, so rebuilding is deterministic and idempotent
// when no new messages arrive between calls.
func (a *Aggregator) Rebuild(ctx context.Context, roomID int64, days int) error {
	fresh, err := a.replay(ctx, roomID, days)
	if err != nil {
		return err
	}
	a.states.Store(roomID, fresh)
	return nil
}

// WindowSnapshot computes period-scoped aggregates by replaying the bounded
// history into a throwaway state. The room's live aggregates are not touched.
func (a *Aggregator) WindowSnapshot(ctx context.Context, roomID int64, days int) (*RoomSnapshot, error) {
	fresh, err := a.replay(ctx, roomID, days)
	if err != nil {
		return nil, err
	}
	return fresh.snapshot(roomID), nil
}

func (a *Aggregator) replay(ctx context.Context, roomID int64, days int) (*roomStats, error) {
	since := time.Time{}
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days)
	}

	history, err := a.messages.History(ctx, roomID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for room %d: %w", roomID, err)
	}

	fresh := newRoomStats()
	for _, msg := range history {
		result, _ := a.fallback.Analyze(ctx, msg.Content)
		fresh.apply(msg.DisplayName(), result, msg.Timestamp)
	}
	return fresh, nil
}

// RebuildAll rebuilds every room with message activity since the cutoff.
// Per-room failures are returned together after all rooms were attempted.
func (a *Aggregator) RebuildAll(ctx context.Context, since time.Time, days int) ([]int64, error) {
	roomIDs, err := a.messages.ActiveRoomIDs(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rooms: %w", err)
	}

	var firstErr error
	rebuilt := make([]int64, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if err := a.Rebuild(ctx, roomID, days); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rebuilt = append(rebuilt, roomID)
	}
	return rebuilt, firstErr
}

// Clear removes a room's in-memory stats.
func (a *Aggregator) Clear(roomID int64) {
	a.states.Delete(roomID)
}

// ActiveRooms returns the rooms currently holding in-memory aggregates with
// at least one recorded message.
func (a *Aggregator) ActiveRooms() []int64 {
	var rooms []int64
	a.states.Range(func(key, value any) bool {
		s := value.(*roomStats)
		s.mu.Lock()
		active := s.messageCount > 0
		s.mu.Unlock()
		if active {
			rooms = append(rooms, key.(int64))
		}
		return true
	})
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

func sortedKeywords(counts map[string]int) []KeywordCount {
	result := make([]KeywordCount, 0, len(counts))
	for word, count := range counts {
		result = append(result, KeywordCount{Keyword: word, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Keyword < result[j].Keyword
	})
	return result
}

func sortedParticipants(counts map[string]int) []ParticipantStat {
	result := make([]ParticipantStat, 0, len(counts))
	for user, count := range counts {
		result = append(result, ParticipantStat{Username: user, MessageCount: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MessageCount != result[j].MessageCount {
			return result[i].MessageCount > result[j].MessageCount
		}
		return result[i].Username < result[j].Username
	})
	return result
}

func sortedLabels(counts map[string]int) []LabelStat {
	result := make([]LabelStat, 0, len(counts))
	for label, count := range counts {
		result = append(result, LabelStat{Label: label, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Label < result[j].Label
	})
	return result
}
