// Package ai wraps the chat-completion backend used for conversation titles
// and follow-up suggestions.
package ai

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

	"chat-sync/internal/config"
	"chat-sync/internal/model"
)

// Generator produces short texts from a conversation transcript.
type Generator interface {
	GenerateTitle(ctx context.Context, transcript []model.Message) (string, error)
	SuggestFollowups(ctx context.Context, transcript []model.Message) ([]string, error)
}

var ErrDisabled = errors.New("ai backend not configured")

type RequestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []RequestMessage `json:"messages"`
	MaxTokens   uint32           `json:"max_tokens"`
	Temperature *float32         `json:"temperature,omitempty"`
}

type ChatChoice struct {
	Index        uint32         `json:"index"`
	Message      RequestMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// Client talks to any OpenAI-compatible /chat/completions endpoint.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewClient(cfg config.AIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

func (c *Client) CreateChatCompletion(ctx context.Context, request ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if c.baseURL == "" {
		return nil, ErrDisabled
	}
	if request.Model == "" {
		request.Model = c.model
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(snippet))
	}

	var out ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("empty completion")
	}
	return &out, nil
}

const (
	titlePrompt = "Write a short title (at most six words) for this conversation. " +
		"Reply with the title only, no quotes or punctuation at the end."
	followupPrompt = "Suggest up to five short follow-up questions the user might ask next. " +
		"Reply with one question per line and nothing else."
)

// transcriptMessages keeps the last turns that fit a small prompt budget.
func transcriptMessages(transcript []model.Message, system string) []RequestMessage {
	const maxTurns = 8
	const maxChars = 2000
	if len(transcript) > maxTurns {
		transcript = transcript[len(transcript)-maxTurns:]
	}
	out := []RequestMessage{{Role: "system", Content: system}}
	for _, m := range transcript {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		content := m.Content
		if len(content) > maxChars {
			content = content[:maxChars]
		}
		out = append(out, RequestMessage{Role: string(m.Role), Content: content})
	}
	return out
}

func (c *Client) complete(ctx context.Context, transcript []model.Message, system string, maxTokens uint32) (string, error) {
	temp := float32(0.3)
	resp, err := c.CreateChatCompletion(ctx, ChatCompletionRequest{
		Messages:    transcriptMessages(transcript, system),
		MaxTokens:   maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) GenerateTitle(ctx context.Context, transcript []model.Message) (string, error) {
	return c.complete(ctx, transcript, titlePrompt, 32)
}

func (c *Client) SuggestFollowups(ctx context.Context, transcript []model.Message) ([]string, error) {
	text, err := c.complete(ctx, transcript, followupPrompt, 200)
	if err != nil {
		return nil, err
	}
	return strings.Split(text, "\n"), nil
}
