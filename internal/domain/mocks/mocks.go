// Package mocks provides testify mocks for the domain ports.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

// MockCompletionClient mocks domain.CompletionClient.
type MockCompletionClient struct {
	mock.Mock
	// ProviderName is returned by Provider without recording a call.
	ProviderName string
}

// Complete records the call and returns the configured completion.
func (m *MockCompletionClient) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Completion), args.Error(1)
}

// Provider returns ProviderName, or "mock" when unset.
func (m *MockCompletionClient) Provider() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// MockLimiter mocks domain.Limiter.
type MockLimiter struct {
	mock.Mock
}

// CheckLimit records the call and returns the configured decision.
func (m *MockLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MockTokenCounter mocks domain.TokenCounter.
type MockTokenCounter struct {
	mock.Mock
}

// CountChatTokens records the call and returns the configured count.
func (m *MockTokenCounter) CountChatTokens(systemPrompt, userPrompt, model string) (int, error) {
	args := m.Called(systemPrompt, userPrompt, model)
	return args.Int(0), args.Error(1)
}
