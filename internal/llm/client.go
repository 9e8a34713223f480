package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mathpath/mathexam/internal/llm/prompts"
	"github.com/mathpath/mathexam/internal/metrics"
)

// DefaultTimeout bounds a single chat completion.
const DefaultTimeout = 120 * time.Second

// Config holds the OpenAI-compatible endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new LLM client and loads the prompt templates.
func New(cfg Config) (*Client, error) {
	if err := prompts.Load(nil); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

var errNoChoices = errors.New("LLM returned no choices")

// complete runs one JSON-mode chat completion and returns the raw content.
func (c *Client) complete(ctx context.Context, operation, system, user string, temperature float32) (raw string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveLLM(operation, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}
	if user != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}

	raw = resp.Choices[0].Message.Content
	slog.Debug("LLM response", "operation", operation, "chars", len(raw),
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return raw, nil
}
