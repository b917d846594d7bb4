package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Config configures an OpenAI-compatible chat completion endpoint.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// OpenAI implements domain.Generator with a single-message chat completion.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		return nil, errors.New("generator model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate sends prompt as the only user message and returns the reply text.
func (g *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	if g.temperature > 0 {
		params.Temperature = openai.Float(g.temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response choices returned")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty response from model")
	}
	return content, nil
}
