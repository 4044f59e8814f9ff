package analysis

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// maxKeywords bounds how many distinct keywords one message contributes.
const maxKeywords = 10

// minKeywordLength drops single-character tokens.
const minKeywordLength = 2

// stopWords are excluded from keyword extraction.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "else": true, "when": true, "while": true,
	"of": true, "at": true, "by": true, "for": true, "with": true,
	"about": true, "into": true, "to": true, "from": true, "in": true,
	"on": true, "off": true, "out": true, "over": true, "under": true,
	"is": true, "am": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "do": true, "does": true,
	"did": true, "have": true, "has": true, "had": true, "will": true,
	"would": true, "can": true, "could": true, "should": true, "shall": true,
	"may": true, "might": true, "must": true, "not": true, "no": true,
	"yes": true, "this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "he": true, "she": true, "they": true,
	"them": true, "his": true, "her": true, "their": true, "we": true,
	"us": true, "our": true, "you": true, "your": true, "me": true,
	"my": true, "mine": true, "so": true, "as": true, "too": true,
	"very": true, "just": true, "also": true, "than": true, "there": true,
	"here": true, "what": true, "which": true, "who": true, "whom": true,
	"how": true, "why": true, "where": true, "all": true, "any": true,
	"some": true, "more": true, "most": true, "other": true, "such": true,
	"only": true, "own": true, "same": true, "now": true, "ok": true,
	"okay": true, "yeah": true, "hmm": true, "huh": true, "lol": true,
}

// topicLexicons maps topic labels to their signal words.
var topicLexicons = map[string][]string{
	"technology":    {"code", "software", "computer", "server", "deploy", "bug", "api", "database", "program", "app", "tech", "ai", "data"},
	"sports":        {"game", "match", "team", "score", "goal", "win", "training", "league", "player", "ball", "run", "race"},
	"food":          {"lunch", "dinner", "breakfast", "eat", "restaurant", "cook", "recipe", "coffee", "pizza", "delicious", "hungry", "meal"},
	"travel":        {"trip", "flight", "hotel", "travel", "vacation", "airport", "tour", "beach", "visit", "ticket", "abroad"},
	"work":          {"meeting", "deadline", "project", "boss", "office", "report", "schedule", "task", "client", "overtime", "salary"},
	"entertainment": {"movie", "music", "concert", "show", "drama", "song", "album", "netflix", "watch", "artist", "festival"},
	"study":         {"exam", "study", "class", "homework", "lecture", "school", "university", "grade", "book", "test", "course"},
}

// emotionLexicons maps emotion labels to their signal words.
var emotionLexicons = map[string][]string{
	"positive": {"good", "great", "love", "happy", "awesome", "nice", "thanks", "excellent", "fun", "excited", "amazing", "glad", "best", "wonderful"},
	"negative": {"bad", "hate", "sad", "angry", "terrible", "awful", "annoying", "tired", "worst", "sorry", "problem", "fail", "wrong", "upset"},
}

// Scoring weights for dictionary matching. An exact keyword match outweighs
// a substring containment in either direction.
const (
	exactMatchScore     = 3
	substringMatchScore = 1
)

// HeuristicAnalyzer is the deterministic fallback analyzer. It never fails:
// a message with nothing extractable yields an empty keyword list with the
// default topic and emotion labels.
type HeuristicAnalyzer struct{}

// NewHeuristicAnalyzer creates the fallback analyzer.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{}
}

// Analyze implements Analyzer. The returned error is always nil.
func (a *HeuristicAnalyzer) Analyze(_ context.Context, content string) (*Result, error) {
	keywords := ExtractKeywords(content)
	words := make([]string, len(keywords))
	for i, kw := range keywords {
		words[i] = kw.Keyword
	}
	return &Result{
		Keywords: keywords,
		Topic:    classify(words, topicLexicons, TopicOther),
		Emotion:  classify(words, emotionLexicons, EmotionNeutral),
	}, nil
}

// ExtractKeywords tokenizes the content and returns the top keywords by
// in-message frequency, capped at maxKeywords distinct words. Stop words,
// words shorter than two characters, and digit-only tokens are dropped.
func ExtractKeywords(content string) []KeywordCount {
	freq := make(map[string]int)
	for _, token := range tokenize(content) {
		freq[token]++
	}

	keywords := make([]KeywordCount, 0, len(freq))
	for word, count := range freq {
		keywords = append(keywords, KeywordCount{Keyword: word, Count: count})
	}
	sort.Slice(keywords, func(i, j int) bool {
		if keywords[i].Count != keywords[j].Count {
			return keywords[i].Count > keywords[j].Count
		}
		return keywords[i].Keyword < keywords[j].Keyword
	})
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

func tokenize(content string) []string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) < minKeywordLength {
			continue
		}
		if stopWords[field] {
			continue
		}
		if digitsOnly(field) {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func digitsOnly(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// classify scores every label's lexicon against the keywords and returns
// the best-scoring label. No hits and ties between distinct labels both
// resolve to the fallback.
func classify(keywords []string, lexicons map[string][]string, fallback string) string {
	best := fallback
	bestScore := 0
	tied := false

	for label, signals := range lexicons {
		score := 0
		for _, signal := range signals {
			for _, keyword := range keywords {
				switch {
				case keyword == signal:
					score += exactMatchScore
				case strings.Contains(keyword, signal) || strings.Contains(signal, keyword):
					score += substringMatchScore
				}
			}
		}
		switch {
		case score > bestScore:
			bestScore = score
			best = label
			tied = false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if tied {
		return fallback
	}
	return best
}
