package analysis

import (
	"fmt"
	"time"

	"github.com/ni-heemang/chat-flow/internal/bus"
)

// Push types carried in AnalysisData payloads.
const (
	PushKeywordUpdate       = "KEYWORD_UPDATE"
	PushParticipationUpdate = "PARTICIPATION_UPDATE"
	PushHourlyUpdate        = "HOURLY_UPDATE"
	PushFullUpdate          = "FULL_UPDATE"
)

// Chart color palettes, fixed so clients render consistently.
var (
	keywordPalette = []string{
		"#FF6384", "#36A2EB", "#FFCE56", "#4BC0C0", "#9966FF",
		"#FF9F40", "#FF6384", "#C9CBCF", "#4BC0C0", "#FF6384",
	}
	participationPalette = []string{
		"#36A2EB", "#FF6384", "#FFCE56", "#4BC0C0", "#9966FF",
		"#FF9F40", "#FF6384", "#C9CBCF", "#4BC0C0", "#FF6384",
	}
)

const (
	hourlyBorderColor     = "#36A2EB"
	hourlyBackgroundColor = "rgba(54, 162, 235, 0.2)"
)

// KeywordAnalysis is the chart-ready keyword payload.
type KeywordAnalysis struct {
	Labels          []string       `json:"labels"`
	Data            []int          `json:"data"`
	BackgroundColor []string       `json:"backgroundColor"`
	TopKeywords     []KeywordCount `json:"topKeywords"`
	TotalKeywords   int            `json:"totalKeywords"`
}

// ParticipationAnalysis is the chart-ready participation payload.
type ParticipationAnalysis struct {
	Labels            []string          `json:"labels"`
	Data              []int             `json:"data"`
	BackgroundColor   []string          `json:"backgroundColor"`
	UserParticipation []ParticipantStat `json:"userParticipation"`
	TotalUsers        int               `json:"totalUsers"`
}

// HourlyAnalysis is the chart-ready hourly activity payload with fixed
// zero-filled 24-hour buckets.
type HourlyAnalysis struct {
	Labels          []string     `json:"labels"`
	Data            []int        `json:"data"`
	BorderColor     string       `json:"borderColor"`
	BackgroundColor string       `json:"backgroundColor"`
	HourlyActivity  []HourlyStat `json:"hourlyActivity"`
}

// AnalysisData is the websocket push payload on the analysis topic.
type AnalysisData struct {
	Type           string                 `json:"type"`
	RoomID         int64                  `json:"roomId"`
	Timestamp      time.Time              `json:"timestamp"`
	Keywords       *KeywordAnalysis       `json:"keywords,omitempty"`
	Participation  *ParticipationAnalysis `json:"participation,omitempty"`
	HourlyActivity *HourlyAnalysis        `json:"hourlyActivity,omitempty"`
}

// BuildKeywordAnalysis renders the top keywords of a snapshot.
func BuildKeywordAnalysis(snapshot *RoomSnapshot) *KeywordAnalysis {
	top := snapshot.Keywords
	if len(top) > maxKeywords {
		top = top[:maxKeywords]
	}
	labels := make([]string, len(top))
	data := make([]int, len(top))
	for i, kw := range top {
		labels[i] = kw.Keyword
		data[i] = kw.Count
	}
	return &KeywordAnalysis{
		Labels:          labels,
		Data:            data,
		BackgroundColor: keywordPalette,
		TopKeywords:     top,
		TotalKeywords:   snapshot.TotalKeywords,
	}
}

// BuildParticipationAnalysis renders per-user message counts.
func BuildParticipationAnalysis(snapshot *RoomSnapshot) *ParticipationAnalysis {
	labels := make([]string, len(snapshot.Participation))
	data := make([]int, len(snapshot.Participation))
	for i, user := range snapshot.Participation {
		labels[i] = user.Username
		data[i] = user.MessageCount
	}
	return &ParticipationAnalysis{
		Labels:            labels,
		Data:              data,
		BackgroundColor:   participationPalette,
		UserParticipation: snapshot.Participation,
		TotalUsers:        len(snapshot.Participation),
	}
}

// BuildHourlyAnalysis renders the 24 hour-of-day buckets.
func BuildHourlyAnalysis(snapshot *RoomSnapshot) *HourlyAnalysis {
	labels := make([]string, 24)
	data := make([]int, 24)
	activity := make([]HourlyStat, 24)
	for hour := 0; hour < 24; hour++ {
		labels[hour] = fmt.Sprintf("%02d", hour)
		data[hour] = snapshot.Hourly[hour]
		activity[hour] = HourlyStat{Hour: hour, MessageCount: snapshot.Hourly[hour]}
	}
	return &HourlyAnalysis{
		Labels:          labels,
		Data:            data,
		BorderColor:     hourlyBorderColor,
		BackgroundColor: hourlyBackgroundColor,
		HourlyActivity:  activity,
	}
}

// Notifier renders aggregate snapshots into chart payloads and publishes
// them on the room's analysis topic.
type Notifier struct {
	bus        *bus.Bus
	aggregator *Aggregator
}

// NewNotifier creates a notifier.
func NewNotifier(b *bus.Bus, aggregator *Aggregator) *Notifier {
	return &Notifier{bus: b, aggregator: aggregator}
}

// PushKeywords publishes a KEYWORD_UPDATE for the room.
func (n *Notifier) PushKeywords(roomID int64) {
	snapshot := n.aggregator.Snapshot(roomID)
	n.publish(roomID, &AnalysisData{
		Type:      PushKeywordUpdate,
		RoomID:    roomID,
		Timestamp: time.Now(),
		Keywords:  BuildKeywordAnalysis(snapshot),
	})
}

// PushParticipation publishes a PARTICIPATION_UPDATE for the room.
func (n *Notifier) PushParticipation(roomID int64) {
	snapshot := n.aggregator.Snapshot(roomID)
	n.publish(roomID, &AnalysisData{
		Type:          PushParticipationUpdate,
		RoomID:        roomID,
		Timestamp:     time.Now(),
		Participation: BuildParticipationAnalysis(snapshot),
	})
}

// PushHourly publishes an HOURLY_UPDATE for the room.
func (n *Notifier) PushHourly(roomID int64) {
	snapshot := n.aggregator.Snapshot(roomID)
	n.publish(roomID, &AnalysisData{
		Type:           PushHourlyUpdate,
		RoomID:         roomID,
		Timestamp:      time.Now(),
		HourlyActivity: BuildHourlyAnalysis(snapshot),
	})
}

// PushFull publishes a FULL_UPDATE carrying all three chart payloads.
func (n *Notifier) PushFull(roomID int64) {
	snapshot := n.aggregator.Snapshot(roomID)
	n.publish(roomID, &AnalysisData{
		Type:           PushFullUpdate,
		RoomID:         roomID,
		Timestamp:      time.Now(),
		Keywords:       BuildKeywordAnalysis(snapshot),
		Participation:  BuildParticipationAnalysis(snapshot),
		HourlyActivity: BuildHourlyAnalysis(snapshot),
	})
}

func (n *Notifier) publish(roomID int64, data *AnalysisData) {
	n.bus.Publish(bus.AnalysisTopic(roomID), data)
}
