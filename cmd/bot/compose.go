package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai"
	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-discord-bot/internal/app"
	"github.com/fairyhunter13/ai-discord-bot/internal/config"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-discord-bot/internal/usecase"
)

// services is the composed application graph.
type services struct {
	chat  *usecase.ChatService
	redis *redis.Client

	closers []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newCompletionClient(cfg config.Config) domain.CompletionClient {
	if cfg.AIProvider == "stub" {
		slog.Warn("using offline stub completion client")
		return stub.New()
	}
	return real.New(cfg)
}

// buildServices constructs the façade and its collaborators and starts their
// background sweepers. Close stops them.
func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	svc := &services{}

	templates, err := config.LoadPromptTemplates(cfg.PromptTemplatesFile)
	if err != nil {
		return nil, err
	}

	var limiter domain.Limiter
	if cfg.RedisURL != "" {
		rdb, err := app.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("op=buildServices: %w", err)
		}
		svc.redis = rdb
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })
		limiter = ratelimiter.NewRedisSlidingLimiter(rdb)
		slog.Info("using redis rate limiter")
	} else {
		mem := ai.NewSlidingWindowLimiter(ai.LimiterConfig{
			StaleAge:        cfg.RateLimitStaleAge,
			CleanupInterval: cfg.RateLimitCleanupInterval,
		})
		mem.Start(ctx)
		svc.closers = append(svc.closers, mem.Stop)
		limiter = mem
	}

	var tokens domain.TokenCounter
	if cfg.MaxPromptTokens > 0 {
		tokens = tokencount.NewCounter()
	}

	chat := usecase.NewChatService(cfg, newCompletionClient(cfg), limiter, tokens, templates)
	chat.Start(ctx)
	svc.closers = append(svc.closers, chat.Stop)
	svc.chat = chat
	return svc, nil
}
