// Package domain defines the core types, ports and error taxonomy shared by
// the AI request layer and its adapters.
package domain

import (
	"context"
	"time"
)

// Message roles understood by OpenAI-compatible chat completion endpoints.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// GenerateOptions are the sampling parameters sent with every completion call.
// They take part in the request fingerprint, so two requests that differ only
// in options never share a cache entry.
type GenerateOptions struct {
	Model            string  `json:"model" validate:"required"`
	Temperature      float32 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens        int     `json:"max_tokens" validate:"gte=0"`
	TopP             float32 `json:"top_p" validate:"gte=0,lte=1"`
	FrequencyPenalty float32 `json:"frequency_penalty" validate:"gte=-2,lte=2"`
	PresencePenalty  float32 `json:"presence_penalty" validate:"gte=-2,lte=2"`
}

// CompletionRequest is a single prompt/system-message pair bound for the
// upstream completion endpoint.
type CompletionRequest struct {
	SystemMessage string
	Prompt        string
	Options       GenerateOptions
}

// Completion is the generated text plus the usage the provider reported.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// ChatRequest is what chat-platform glue hands to the request facade.
// The zero value of BypassCache means "use the cache".
type ChatRequest struct {
	CallerID      string
	Prompt        string
	SystemMessage string
	BypassCache   bool
	// Options overrides the service defaults when non-nil.
	Options *GenerateOptions
}

// CompletionClient (port) performs one upstream completion call. Implementations
// must return *AIError values so callers can classify failures without
// inspecting transport details.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	// Provider names the upstream dependency; it keys breakers and limits.
	Provider() string
}

// Limiter (port) is a per-key sliding-window request gate.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// TokenCounter (port) estimates the prompt size of a chat request in tokens.
type TokenCounter interface {
	CountChatTokens(systemPrompt, userPrompt, model string) (int, error)
}
