package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

// Client is an OpenAI-compatible embeddings client implementing the Embedder
// interface. It also understands the Ollama-native response shape.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int

	mu        sync.RWMutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: t},
		maxRetries: 5,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Prepare is not required for remote embedding. The dimension is learned on first embed.
func (c *Client) Prepare(context.Context, []string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors, or
// zero before the first successful Embed.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed returns an embedding vector for the given text, retrying rate
// limits and server errors with exponential backoff.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	data, err := json.Marshal(reqBody{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, lastDelay(lastErr, attempt-1)); err != nil {
				return nil, err
			}
		}
		vec, retry, err := c.embedOnce(ctx, url, data)
		if err == nil {
			c.mu.Lock()
			if c.dimension == 0 {
				c.dimension = len(vec)
			}
			c.mu.Unlock()
			return vec, nil
		}
		if !retry || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("openai embeddings failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// retryAfterError carries a server-provided delay.
type retryAfterError struct {
	status string
	delay  time.Duration
}

func (e *retryAfterError) Error() string { return "openai embeddings failed: " + e.status }

func lastDelay(err error, attempt int) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.delay > 0 {
		return ra.delay
	}
	return retryDelay(attempt)
}

func (c *Client) embedOnce(ctx context.Context, url string, body []byte) (vec []float64, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		e := &retryAfterError{status: resp.Status}
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
			e.delay = time.Duration(secs) * time.Second
		}
		return nil, true, e
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if v := decodeEmbedding(payload); len(v) > 0 {
		return v, false, nil
	}
	return nil, true, errors.New("no embedding returned")
}

// decodeEmbedding accepts the OpenAI shape {"data":[{"embedding":[...]}]} and
// the Ollama-native shape {"embedding":[...]}.
func decodeEmbedding(payload []byte) []float64 {
	var openaiOut struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding
		}
	}
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil {
		return ollamaOut.Embedding
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
