package real

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-discord-bot/internal/config"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

type chatReq struct {
	Model            string              `json:"model"`
	Messages         []map[string]string `json:"messages"`
	Temperature      float32             `json:"temperature"`
	MaxTokens        int                 `json:"max_tokens"`
	TopP             float32             `json:"top_p"`
	FrequencyPenalty float32             `json:"frequency_penalty"`
	PresencePenalty  float32             `json:"presence_penalty"`
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		AIProvider:    "openai",
		AIAPIKey:      "sk-test",
		AIBaseURL:     baseURL + "/v1",
		AIModel:       "gpt-4o-mini",
		AIHTTPTimeout: 2 * time.Second,
	}
}

func writeCompletion(w http.ResponseWriter, content string, promptTokens, completionTokens int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o-mini-2024-07-18",
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": promptTokens, "completion_tokens": completionTokens, "total_tokens": promptTokens + completionTokens},
	})
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": msg, "type": "error"},
	})
}

func TestComplete_Success(t *testing.T) {
	var got chatReq
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeCompletion(w, "  Paris is the capital.  ", 21, 6)
	}))
	defer ts.Close()

	c := New(testConfig(ts.URL))
	assert.Equal(t, "openai", c.Provider())

	out, err := c.Complete(context.Background(), domain.CompletionRequest{
		SystemMessage: "You are helpful.",
		Prompt:        "Capital of France?",
		Options: domain.GenerateOptions{
			Model: "gpt-4o-mini", Temperature: 0.5, MaxTokens: 128, TopP: 0.9, FrequencyPenalty: 0.1, PresencePenalty: 0.2,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital.", out.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", out.Model)
	assert.Equal(t, 21, out.PromptTokens)
	assert.Equal(t, 6, out.CompletionTokens)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0]["role"])
	assert.Equal(t, "You are helpful.", got.Messages[0]["content"])
	assert.Equal(t, "user", got.Messages[1]["role"])
	assert.Equal(t, "Capital of France?", got.Messages[1]["content"])
	assert.InDelta(t, 0.5, got.Temperature, 0.0001)
	assert.Equal(t, 128, got.MaxTokens)
	assert.InDelta(t, 0.9, got.TopP, 0.0001)
	assert.InDelta(t, 0.1, got.FrequencyPenalty, 0.0001)
	assert.InDelta(t, 0.2, got.PresencePenalty, 0.0001)
}

func TestComplete_DefaultsModelAndOmitsEmptySystem(t *testing.T) {
	var got chatReq
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeCompletion(w, "<think>reasoning</think>hi", 0, 0)
	}))
	defer ts.Close()

	out, err := New(testConfig(ts.URL)).Complete(context.Background(), domain.CompletionRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0]["role"])
	assert.Equal(t, "hi", out.Text)
	assert.Greater(t, out.PromptTokens, 0, "usage is estimated when the provider omits it")
	assert.Greater(t, out.CompletionTokens, 0)
}

func TestComplete_ClassifiesHTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   domain.ErrorKind
		wantIs     error
		wantDelay  time.Duration
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: domain.KindAuth, wantIs: domain.ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, wantKind: domain.KindAuth, wantIs: domain.ErrUnauthorized},
		{name: "rate limited", status: http.StatusTooManyRequests, retryAfter: "7", wantKind: domain.KindUpstreamRateLimited, wantIs: domain.ErrUpstreamRateLimit, wantDelay: 7 * time.Second},
		{name: "rate limited without header", status: http.StatusTooManyRequests, wantKind: domain.KindUpstreamRateLimited, wantIs: domain.ErrUpstreamRateLimit},
		{name: "server error", status: http.StatusInternalServerError, wantKind: domain.KindServer, wantIs: domain.ErrUpstreamServer},
		{name: "bad gateway", status: http.StatusBadGateway, wantKind: domain.KindServer, wantIs: domain.ErrUpstreamServer},
		{name: "bad request", status: http.StatusBadRequest, wantKind: domain.KindUnknown, wantIs: domain.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				writeAPIError(w, tt.status, "nope")
			}))
			defer ts.Close()

			_, err := New(testConfig(ts.URL)).Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
			require.Error(t, err)

			var aerr *domain.AIError
			require.True(t, errors.As(err, &aerr))
			assert.Equal(t, tt.wantKind, aerr.Kind)
			assert.Equal(t, tt.status, aerr.Status)
			assert.Equal(t, tt.wantDelay, aerr.RetryAfter)
			assert.ErrorIs(t, err, tt.wantIs)
		})
	}
}

func TestComplete_NonJSONErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream connect error"))
	}))
	defer ts.Close()

	_, err := New(testConfig(ts.URL)).Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, domain.KindServer, domain.KindOf(err))
}

func TestComplete_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.AIHTTPTimeout = 50 * time.Millisecond
	_, err := New(cfg).Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestComplete_ContextDeadline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := New(testConfig(ts.URL)).Complete(ctx, domain.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
}

func TestComplete_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New(testConfig(url)).Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestComplete_MissingAPIKey(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.AIAPIKey = ""
	_, err := New(cfg).Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	assert.Zero(t, calls.Load())
}

func TestComplete_EmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	_, err := New(testConfig(ts.URL)).Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, domain.KindUnknown, domain.KindOf(err))
}

func TestComplete_Pacer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "ok", 1, 1)
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.AIMaxRequestsPS = 1
	c := New(cfg)
	_, err := c.Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)

	// The next token is a second away; a shorter deadline fails fast.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, domain.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{" 12 ", 12 * time.Second},
		{"-3", 0},
		{"soon", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-30 * time.Second).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseRetryAfter(tt.in, now), tt.in)
	}
}
