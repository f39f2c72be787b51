// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai"
	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/config"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/pkg/textx"
)

const opGenerate = "chat.generate"

// ChatSettings are the façade's tunables, usually derived from config.
type ChatSettings struct {
	Defaults domain.GenerateOptions

	MaxPromptRunes    int
	MaxPromptTokens   int
	MaxCacheableBytes int
	CacheTTL          time.Duration

	UserLimit     int
	UpstreamLimit int
	LimitWindow   time.Duration

	// PoolAcquireTimeout bounds the wait for a pool slot; 0 leaves it to ctx.
	PoolAcquireTimeout time.Duration
	// FallbackText is served while the upstream breaker is open.
	FallbackText string
}

// SettingsFromConfig maps environment configuration onto ChatSettings.
func SettingsFromConfig(cfg config.Config) ChatSettings {
	return ChatSettings{
		Defaults: domain.GenerateOptions{
			Model:            cfg.AIModel,
			Temperature:      cfg.AITemperature,
			MaxTokens:        cfg.AIMaxTokens,
			TopP:             cfg.AITopP,
			FrequencyPenalty: cfg.AIFrequencyPen,
			PresencePenalty:  cfg.AIPresencePen,
		},
		MaxPromptRunes:     cfg.MaxPromptRunes,
		MaxPromptTokens:    cfg.MaxPromptTokens,
		MaxCacheableBytes:  cfg.MaxCacheableBytes,
		CacheTTL:           cfg.CacheTTL,
		UserLimit:          cfg.RateLimitMaxRequests,
		UpstreamLimit:      cfg.UpstreamRateLimitMax,
		LimitWindow:        cfg.RateLimitWindow,
		PoolAcquireTimeout: cfg.PoolAcquireTimeout,
		FallbackText:       cfg.AIFallbackText,
	}
}

// ChatService is the single entry point for generating AI replies. It owns
// the response cache, the connection pool and the breakers guarding the
// upstream client; the limiter is injected so it can be shared.
type ChatService struct {
	Client    domain.CompletionClient
	Cache     *ai.ResponseCache
	Limiter   domain.Limiter
	Pool      *ai.ConnectionPool
	Breakers  *ai.CircuitBreakerManager
	Tokens    domain.TokenCounter
	Templates config.PromptTemplates
	Settings  ChatSettings

	validate *validator.Validate
}

// NewChatService builds the façade and its owned primitives from cfg.
// tokens may be nil, which disables token budgeting.
func NewChatService(cfg config.Config, client domain.CompletionClient, limiter domain.Limiter, tokens domain.TokenCounter, templates config.PromptTemplates) *ChatService {
	return &ChatService{
		Client: client,
		Cache: ai.NewResponseCache(ai.CacheConfig{
			MaxSize:         cfg.CacheMaxSize,
			TTL:             cfg.CacheTTL,
			CleanupInterval: cfg.CacheCleanupInterval,
		}),
		Limiter: limiter,
		Pool:    ai.NewConnectionPool(cfg.PoolMaxConnections),
		Breakers: ai.NewCircuitBreakerManager(ai.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		}),
		Tokens:    tokens,
		Templates: templates,
		Settings:  SettingsFromConfig(cfg),
		validate:  validator.New(),
	}
}

// Start launches the cache sweeper.
func (s *ChatService) Start(ctx context.Context) { s.Cache.Start(ctx) }

// Stop halts background work started by Start.
func (s *ChatService) Stop() { s.Cache.Stop() }

// GenerateResponse answers one prompt. On any failure it returns a typed
// *domain.AIError and an empty string; the only non-error degraded result is
// the configured fallback text while the upstream breaker is open.
func (s *ChatService) GenerateResponse(ctx context.Context, req domain.ChatRequest) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "ChatService.GenerateResponse")
	defer span.End()
	lg := observability.LoggerFromContext(ctx).With(slog.String("caller_id", req.CallerID))

	req.Prompt = textx.SanitizePrompt(req.Prompt)
	req.SystemMessage = textx.SanitizePrompt(req.SystemMessage)

	opts := s.options(req.Options)
	span.SetAttributes(
		attribute.String("ai.provider", s.Client.Provider()),
		attribute.String("ai.model", opts.Model),
		attribute.Bool("ai.cache_bypass", req.BypassCache),
	)

	if err := s.validateRequest(req, opts); err != nil {
		span.SetStatus(codes.Error, "validation")
		return "", err
	}

	if req.CallerID != "" {
		if err := s.checkLimit(ctx, "user", "user:"+req.CallerID, s.Settings.UserLimit); err != nil {
			lg.Info("caller rate limited")
			span.SetStatus(codes.Error, "rate_limited")
			return "", err
		}
	}

	key := ai.Fingerprint(req.Prompt, req.SystemMessage, opts)
	if !req.BypassCache {
		cached, ok := s.Cache.Get(key)
		observability.RecordCacheLookup(ok)
		span.SetAttributes(attribute.Bool("ai.cache_hit", ok))
		if ok {
			lg.Debug("response cache hit", slog.String("fingerprint", key[:12]))
			return cached, nil
		}
	}

	text, fellBack, err := s.callUpstream(ctx, req, opts)
	if err != nil {
		err = ensureTyped(err)
		kind := domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		if kind == domain.KindUnknown {
			lg.Error("ai generation failed", slog.String("kind", kind.String()), slog.Any("error", err))
		} else {
			lg.Warn("ai generation failed", slog.String("kind", kind.String()), slog.Any("error", err))
		}
		return "", err
	}
	if fellBack {
		span.SetAttributes(attribute.Bool("ai.fallback", true))
		return text, nil
	}

	if !req.BypassCache {
		if len(text) <= s.Settings.MaxCacheableBytes {
			s.Cache.Set(key, text, s.Settings.CacheTTL)
		} else {
			lg.Debug("response too large to cache", slog.Int("bytes", len(text)))
		}
	}
	return text, nil
}

// callUpstream holds a pool slot for the whole upstream attempt, including
// the upstream limit check and the breaker.
func (s *ChatService) callUpstream(ctx context.Context, req domain.ChatRequest, opts domain.GenerateOptions) (string, bool, error) {
	acquireCtx := ctx
	if s.Settings.PoolAcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.Settings.PoolAcquireTimeout)
		defer cancel()
	}
	if err := s.Pool.Acquire(acquireCtx); err != nil {
		return "", false, err
	}
	defer s.Pool.Release()

	provider := s.Client.Provider()
	if err := s.checkLimit(ctx, "upstream", "upstream:"+provider, s.Settings.UpstreamLimit); err != nil {
		return "", false, err
	}

	var (
		completion domain.Completion
		fellBack   bool
	)
	var fallback func(context.Context, error) error
	if s.Settings.FallbackText != "" {
		fallback = func(ctx context.Context, err error) error {
			observability.LoggerFromContext(ctx).Warn("serving fallback response",
				slog.String("provider", provider), slog.Any("error", err))
			fellBack = true
			return nil
		}
	}
	err := s.Breakers.Get(provider).Execute(ctx, func(ctx context.Context) error {
		var cerr error
		completion, cerr = s.Client.Complete(ctx, domain.CompletionRequest{
			SystemMessage: req.SystemMessage,
			Prompt:        req.Prompt,
			Options:       opts,
		})
		return cerr
	}, fallback)
	if err != nil {
		return "", false, err
	}
	if fellBack {
		return s.Settings.FallbackText, true, nil
	}
	if strings.TrimSpace(completion.Text) == "" {
		return "", false, &domain.AIError{Kind: domain.KindUnknown, Op: opGenerate, Err: errors.New("empty completion")}
	}
	return completion.Text, false, nil
}

// checkLimit fails open when the limiter backend errors; the error is logged.
func (s *ChatService) checkLimit(ctx context.Context, scope, key string, limit int) error {
	if s.Limiter == nil {
		return nil
	}
	allowed, err := s.Limiter.CheckLimit(ctx, key, limit, s.Settings.LimitWindow)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("rate limiter unavailable; allowing request",
			slog.String("scope", scope), slog.Any("error", err))
	}
	observability.RecordRateLimitDecision(scope, allowed)
	if !allowed {
		return &domain.AIError{Kind: domain.KindRateLimited, Op: "chat.limit." + scope}
	}
	return nil
}

func (s *ChatService) validateRequest(req domain.ChatRequest, opts domain.GenerateOptions) error {
	if req.Prompt == "" {
		return &domain.AIError{Kind: domain.KindValidation, Op: opGenerate, Err: errors.New("prompt is empty")}
	}
	if n := utf8.RuneCountInString(req.Prompt); s.Settings.MaxPromptRunes > 0 && n > s.Settings.MaxPromptRunes {
		return &domain.AIError{Kind: domain.KindValidation, Op: opGenerate,
			Err: fmt.Errorf("prompt has %d characters, limit is %d", n, s.Settings.MaxPromptRunes)}
	}
	v := s.validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(opts); err != nil {
		return &domain.AIError{Kind: domain.KindValidation, Op: opGenerate, Err: err}
	}
	if s.Settings.MaxPromptTokens > 0 && s.Tokens != nil {
		n, err := s.Tokens.CountChatTokens(req.SystemMessage, req.Prompt, opts.Model)
		if err != nil {
			slog.Warn("token count failed; skipping token budget", slog.Any("error", err))
			return nil
		}
		if n > s.Settings.MaxPromptTokens {
			return &domain.AIError{Kind: domain.KindValidation, Op: opGenerate,
				Err: fmt.Errorf("prompt has %d tokens, limit is %d", n, s.Settings.MaxPromptTokens)}
		}
	}
	return nil
}

// options returns the request override or the service defaults. An override
// without a model inherits the default model.
func (s *ChatService) options(override *domain.GenerateOptions) domain.GenerateOptions {
	if override == nil {
		return s.Settings.Defaults
	}
	opts := *override
	if opts.Model == "" {
		opts.Model = s.Settings.Defaults.Model
	}
	return opts
}

// ensureTyped guarantees callers only ever see *domain.AIError values.
func ensureTyped(err error) error {
	var ae *domain.AIError
	if errors.As(err, &ae) {
		return err
	}
	kind := domain.KindUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.KindTimeout
	}
	return &domain.AIError{Kind: kind, Op: opGenerate, Err: err}
}
