package usecase

import (
	"context"
	"time"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai"
	"github.com/fairyhunter13/ai-discord-bot/internal/config"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/internal/service/ratelimiter"
)

// CodeRequest builds a programming request in the given language.
func (s *ChatService) CodeRequest(callerID, prompt, language string) domain.ChatRequest {
	return domain.ChatRequest{
		CallerID:      callerID,
		Prompt:        prompt,
		SystemMessage: config.Render(s.Templates.Code, language),
	}
}

// ExplanationRequest builds a beginner-level explanation request.
func (s *ChatService) ExplanationRequest(callerID, topic string) domain.ChatRequest {
	return domain.ChatRequest{
		CallerID:      callerID,
		Prompt:        topic,
		SystemMessage: config.Render(s.Templates.Explain, ""),
	}
}

// ReviewRequest builds a code review request.
func (s *ChatService) ReviewRequest(callerID, code, language string) domain.ChatRequest {
	return domain.ChatRequest{
		CallerID:      callerID,
		Prompt:        code,
		SystemMessage: config.Render(s.Templates.Review, language),
	}
}

// GenerateCodeResponse answers a programming request in the given language.
func (s *ChatService) GenerateCodeResponse(ctx context.Context, callerID, prompt, language string) (string, error) {
	return s.GenerateResponse(ctx, s.CodeRequest(callerID, prompt, language))
}

// GenerateExplanation explains a topic for a beginner.
func (s *ChatService) GenerateExplanation(ctx context.Context, callerID, topic string) (string, error) {
	return s.GenerateResponse(ctx, s.ExplanationRequest(callerID, topic))
}

// GenerateReview reviews a code snippet.
func (s *ChatService) GenerateReview(ctx context.Context, callerID, code, language string) (string, error) {
	return s.GenerateResponse(ctx, s.ReviewRequest(callerID, code, language))
}

// ChatSystemMessage is the default persona for free-form chat.
func (s *ChatService) ChatSystemMessage() string {
	return config.Render(s.Templates.Chat, "")
}

// RetryGenerate repeats GenerateResponse under policy. Only use it for
// requests that are safe to send more than once.
func (s *ChatService) RetryGenerate(ctx context.Context, req domain.ChatRequest, policy ai.RetryPolicy) (string, error) {
	var out string
	err := ai.RetryWithBackoff(ctx, func(ctx context.Context, _ int) error {
		text, err := s.GenerateResponse(ctx, req)
		if err != nil {
			return err
		}
		out = text
		return nil
	}, policy)
	if err != nil {
		return "", err
	}
	return out, nil
}

// ServiceStats is a combined read-only snapshot of the façade's primitives.
type ServiceStats struct {
	Provider string                     `json:"provider"`
	Cache    ai.CacheStats              `json:"cache"`
	Pool     ai.PoolStats               `json:"pool"`
	Breakers map[string]ai.BreakerStats `json:"breakers"`
	// Limiter is the backend-specific snapshot, nil when the backend has none.
	Limiter   any       `json:"limiter,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats returns a diagnostic snapshot.
func (s *ChatService) Stats() ServiceStats {
	st := ServiceStats{
		Provider:  s.Client.Provider(),
		Cache:     s.Cache.Stats(),
		Pool:      s.Pool.Stats(),
		Breakers:  s.Breakers.Stats(),
		Timestamp: time.Now().UTC(),
	}
	switch l := s.Limiter.(type) {
	case *ai.SlidingWindowLimiter:
		st.Limiter = l.Stats()
	case *ratelimiter.RedisSlidingLimiter:
		st.Limiter = l.Stats()
	}
	return st
}
