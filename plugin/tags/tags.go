// Package tags suggests content tags through an OpenAI-compatible chat
// completion API. The feature is optional; without an API key ingest
// and parsing behave identically.
package tags

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/linkhoard/linkhoard/store"
)

const (
	suggestTimeout     = 15 * time.Second
	suggestMaxTokens   = 100
	suggestTemperature = 0.2
	suggestInputMaxLen = 1500
	maxSuggestedTags   = 6
)

const systemPrompt = `You tag saved web content for a personal archive.
Given a post's platform, title and body, respond with a JSON object
{"tags": ["..."]} containing up to 6 short lowercase topic tags in the
content's own language. Prefer reusing tags from the known list when
they fit. Never invent tags about the archive itself.`

// Suggester proposes tags for parsed content.
type Suggester struct {
	client *openai.Client
	model  string
}

// Config holds the completion API settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewSuggester creates a tag suggester.
func NewSuggester(cfg Config) *Suggester {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Suggester{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}
}

// Suggest returns up to 6 tags for the content. Tags the content
// already carries are filtered out; knownTags hints the model toward
// the archive's existing vocabulary.
func (s *Suggester) Suggest(ctx context.Context, content *store.Content, knownTags []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	body := content.Body
	if body == "" {
		body = content.Summary
	}
	if len(body) > suggestInputMaxLen {
		body = body[:suggestInputMaxLen] + "..."
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Platform: %s\nTitle: %s\n\n%s", content.Platform, content.Title, body)
	if len(knownTags) > 0 {
		fmt.Fprintf(&prompt, "\n\nKnown tags: %s", strings.Join(knownTags, ", "))
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   suggestMaxTokens,
		Temperature: suggestTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("tag_suggestion_failed",
			"model", s.model,
			"content_id", content.ID,
			"error", err,
			"latency_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("tag suggestion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from tag suggestion model")
	}

	var result struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		slog.Warn("tag_suggestion_parse_failed",
			"model", s.model,
			"content", resp.Choices[0].Message.Content,
			"error", err)
		return nil, fmt.Errorf("parse tag suggestion failed: %w", err)
	}

	return normalizeTags(result.Tags, content.Tags), nil
}

// normalizeTags lowercases, trims and dedups suggestions, dropping
// empties and tags the content already has.
func normalizeTags(suggested, existing []string) []string {
	have := make(map[string]bool, len(existing))
	for _, tag := range existing {
		have[strings.ToLower(tag)] = true
	}

	var out []string
	for _, tag := range suggested {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || have[tag] {
			continue
		}
		have[tag] = true
		out = append(out, tag)
		if len(out) == maxSuggestedTags {
			break
		}
	}
	return out
}
