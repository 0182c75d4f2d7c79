// Package llm talks to an OpenAI-compatible endpoint for reply generation and
// text embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"replydraft/internal/apperr"
)

var (
	// ErrNotConfigured indicates no API key was provided.
	ErrNotConfigured = errors.New("llm client not configured")
	// ErrInvalidResponse indicates the API returned no usable content.
	ErrInvalidResponse = errors.New("invalid llm response")
)

// Config selects the endpoint and models.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
}

// Client implements compose.Generator and retrieval.Embedder.
type Client struct {
	api   openai.Client
	cfg   Config
	ready bool
}

// NewClient builds a client. A client without an API key returns
// ErrNotConfigured from every call.
func NewClient(cfg Config, opts ...option.RequestOption) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	all := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		all = append(all, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	all = append(all, opts...)
	return &Client{
		api:   openai.NewClient(all...),
		cfg:   cfg,
		ready: cfg.APIKey != "",
	}
}

// Generate returns the model's reply to a single user prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.ready {
		return "", ErrNotConfigured
	}
	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.cfg.Model),
		Temperature: openai.Float(c.cfg.Temperature),
	})
	if err != nil {
		return "", wrap("chat completion", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrInvalidResponse
	}
	return completion.Choices[0].Message.Content, nil
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.ready {
		return nil, ErrNotConfigured
	}
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, wrap("embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d inputs", ErrInvalidResponse, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrInvalidResponse, d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func wrap(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &apperr.StatusError{Op: op, Code: apiErr.StatusCode, Err: err}
	}
	return apperr.Transient(op, err)
}
