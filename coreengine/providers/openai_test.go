package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/procurement/coreengine/agents"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *HTTPGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewHTTPGenerator(OpenAIConfig{
		BaseURL:   srv.URL + "/",
		APIKey:    "sk-test",
		Model:     "gpt-test",
		MaxTokens: 512,
	})
	require.NoError(t, err)
	return g
}

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func TestNewHTTPGenerator_Defaults(t *testing.T) {
	g, err := NewHTTPGenerator(OpenAIConfig{APIKey: "sk"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, g.Model())
	assert.Equal(t, DefaultBaseURL, g.cfg.BaseURL)
	assert.Equal(t, 2*time.Minute, g.client.Timeout)
}

func TestNewHTTPGenerator_RequiresAPIKey(t *testing.T) {
	_, err := NewHTTPGenerator(OpenAIConfig{APIKey: "  "})
	assert.ErrorContains(t, err, "api key")
}

func TestGenerate_SendsChatRequest(t *testing.T) {
	var got chatRequest
	var auth, path string
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completion(`{"category":"software"}`)))
	})

	text, err := g.Generate(context.Background(), agents.Prompt{
		Task:         "classification",
		System:       "You classify procurement requests.",
		User:         "Need a CRM",
		Temperature:  0.1,
		JSONResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"category":"software"}`, text)

	assert.Equal(t, "/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Need a CRM", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestGenerate_OmitsOptionalFields(t *testing.T) {
	var raw map[string]any
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(completion("# RFP")))
	})

	_, err := g.Generate(context.Background(), agents.Prompt{Task: "generation", User: "write"})
	require.NoError(t, err)
	assert.NotContains(t, raw, "response_format")
	msgs, ok := raw["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream overloaded", wantMsg: "502"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, wantMsg: "slow down"},
		{name: "error envelope", status: http.StatusOK, body: `{"error":{"message":"model not found"}}`, wantMsg: "model not found"},
		{name: "empty content", status: http.StatusOK, body: completion("   "), wantMsg: "no content"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantMsg: "no content"},
		{name: "not json", status: http.StatusOK, body: "<html>", wantMsg: "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := g.Generate(context.Background(), agents.Prompt{Task: "approval", User: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestGenerate_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, agents.Prompt{Task: "generation", User: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
}

func TestGenerate_LogsFailures(t *testing.T) {
	var sb strings.Builder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g, err := NewHTTPGenerator(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk"},
		WithLogger(observability.NewLoggerTo(&sb, "debug", "text")),
		WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), agents.Prompt{Task: "classification", User: "x"})
	require.Error(t, err)
	assert.Contains(t, sb.String(), "llm_call_failed")
	assert.Contains(t, sb.String(), "http_500")
}
