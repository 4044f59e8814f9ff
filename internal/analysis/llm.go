package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrLLMDisabled is returned when no API endpoint is configured.
var ErrLLMDisabled = errors.New("llm analyzer not configured")

const analysisPrompt = `You analyze chat messages. Respond with only a JSON object:
{"keywords": ["up to 10 significant words"], "topic": "one of: technology, sports, food, travel, work, entertainment, study, other", "emotion": "one of: positive, negative, neutral"}`

// LLMConfig configures the primary analyzer.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMAnalyzer calls an OpenAI-compatible chat completions endpoint and
// parses the structured response. Any transport, status, or parse problem
// is returned as an error for the pipeline to fall back on.
type LLMAnalyzer struct {
	config LLMConfig
	client *http.Client
}

// NewLLMAnalyzer creates the primary analyzer.
func NewLLMAnalyzer(config LLMConfig) *LLMAnalyzer {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &LLMAnalyzer{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type llmResult struct {
	Keywords []string `json:"keywords"`
	Topic    string   `json:"topic"`
	Emotion  string   `json:"emotion"`
}

// Analyze implements Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, content string) (*Result, error) {
	if a.config.BaseURL == "" {
		return nil, ErrLLMDisabled
	}

	body, err := json.Marshal(chatRequest{
		Model: a.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: analysisPrompt},
			{Role: "user", Content: content},
		},
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode llm request: %w", err)
	}

	url := strings.TrimSuffix(a.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm returned status %d: %s", resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("llm response contained no choices")
	}

	return parseResultJSON(parsed.Choices[0].Message.Content)
}

// parseResultJSON extracts the structured result from the model output,
// tolerating markdown code fences around the JSON.
func parseResultJSON(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw llmResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse llm result: %w", err)
	}

	result := &Result{Topic: raw.Topic, Emotion: raw.Emotion}
	if result.Topic == "" {
		result.Topic = TopicOther
	}
	if result.Emotion == "" {
		result.Emotion = EmotionNeutral
	}
	for _, word := range raw.Keywords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		result.Keywords = append(result.Keywords, KeywordCount{Keyword: word, Count: 1})
		if len(result.Keywords) == maxKeywords {
			break
		}
	}
	return result, nil
}
