// Package analysis implements the real-time message analysis pipeline: a
// primary LLM analyzer with a deterministic heuristic fallback, per-room
// stat aggregation, the push scheduler, and durable analysis records.
package analysis

import "context"

// KeywordCount is one extracted keyword with its occurrence count inside a
// single message.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Result is the outcome of analyzing one message. Topic is drawn from a
// bounded label set with "other" as the default; Emotion defaults to
// "neutral".
type Result struct {
	Keywords []KeywordCount `json:"keywords"`
	Topic    string         `json:"topic"`
	Emotion  string         `json:"emotion"`
}

// Analyzer extracts keywords, a topic label, and an emotion label from a
// message. Implementations may fail; the pipeline always has the heuristic
// fallback behind them.
type Analyzer interface {
	Analyze(ctx context.Context, content string) (*Result, error)
}

// Default labels when no dictionary entry scores.
const (
	TopicOther     = "other"
	EmotionNeutral = "neutral"
)
