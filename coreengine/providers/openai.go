// Package providers implements the generation capability against remote
// language model APIs.
package providers

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/procurement/coreengine/agents"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
	"github.com/jeeves-cluster-organization/procurement/coreengine/typeutil"
)

var tracer = otel.Tracer("procurement/providers")

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 2048

// OpenAIConfig configures an HTTPGenerator.
type OpenAIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HTTPGenerator calls an OpenAI-compatible chat completions endpoint.
type HTTPGenerator struct {
	cfg    OpenAIConfig
	client *http.Client
	logger observability.Logger
}

// Option configures an HTTPGenerator.
type Option func(*HTTPGenerator)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGenerator) {
		if c != nil {
			g.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(g *HTTPGenerator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewHTTPGenerator creates an HTTPGenerator. An API key is required.
func NewHTTPGenerator(cfg OpenAIConfig, opts ...Option) (*HTTPGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("providers: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	g := &HTTPGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Model returns the configured model name.
func (g *HTTPGenerator) Model() string { return g.cfg.Model }

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate implements agents.Generator. Transport failures, non-2xx answers
// and empty completions are UpstreamUnavailable.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt agents.Prompt) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.chat_completion",
		trace.WithAttributes(
			attribute.String("llm.model", g.cfg.Model),
			attribute.String("llm.task", prompt.Task),
		),
	)
	defer span.End()

	start := time.Now()
	text, status, err := g.complete(ctx, prompt)
	durationMS := int(time.Since(start).Milliseconds())

	observability.RecordLLMCall("openai", g.cfg.Model, status, durationMS)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("llm_call_failed",
			"task", prompt.Task,
			"model", g.cfg.Model,
			"status", status,
			"duration_ms", durationMS,
			"error", err,
		)
		return "", errs.UpstreamUnavailable(err)
	}

	span.SetAttributes(attribute.Int("llm.response_chars", len(text)))
	g.logger.Debug("llm_call_completed",
		"task", prompt.Task,
		"model", g.cfg.Model,
		"duration_ms", durationMS,
	)
	return text, nil
}

// complete performs the request and returns the completion text and a
// metrics status label.
func (g *HTTPGenerator) complete(ctx context.Context, prompt agents.Prompt) (string, string, error) {
	body := chatRequest{
		Model:       g.cfg.Model,
		Temperature: prompt.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}
	if prompt.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: prompt.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: prompt.User})
	if prompt.JSONResponse {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", "error", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", "error", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "timeout", err
		}
		return "", "error", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Sprintf("http_%d", resp.StatusCode),
			fmt.Errorf("chat completion returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "error", fmt.Errorf("decode response: %w", err)
	}
	if msg, ok := typeutil.GetNestedString(decoded, "error.message"); ok && msg != "" {
		return "", "error", fmt.Errorf("chat completion error: %s", msg)
	}

	text, _ := typeutil.GetNestedString(decoded, "choices.0.message.content")
	if strings.TrimSpace(text) == "" {
		return "", "empty", errors.New("chat completion returned no content")
	}
	return text, "success", nil
}

var _ agents.Generator = (*HTTPGenerator)(nil)
