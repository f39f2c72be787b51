// Package real implements the upstream completion client for OpenAI-compatible
// chat completion endpoints.
package real

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai"
	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/config"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

const opComplete = "chat.complete"

// chatCompleter is the subset of *openai.Client the adapter uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client implements domain.CompletionClient. It is the only code that speaks
// HTTP to the completion endpoint and it classifies every failure into a
// *domain.AIError.
type Client struct {
	cfg      config.Config
	api      chatCompleter
	pacer    *rate.Limiter
	counter  *tokencount.Counter
	cleaner  *ai.ResponseCleaner
	provider string
}

// New constructs a client for cfg.AIBaseURL with a fixed per-request timeout.
func New(cfg config.Config) *Client {
	hc := &http.Client{
		Timeout:   cfg.AIHTTPTimeout,
		Transport: otelhttp.NewTransport(&retryAfterTransport{base: http.DefaultTransport}),
	}
	clientCfg := openai.DefaultConfig(cfg.AIAPIKey)
	if cfg.AIBaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.AIBaseURL, "/")
	}
	clientCfg.HTTPClient = hc

	pacer := rate.NewLimiter(rate.Inf, 0)
	if cfg.AIMaxRequestsPS > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.AIMaxRequestsPS), 1)
	}
	provider := cfg.AIProvider
	if provider == "" {
		provider = "openai"
	}
	return &Client{
		cfg:      cfg,
		api:      openai.NewClientWithConfig(clientCfg),
		pacer:    pacer,
		counter:  tokencount.NewCounter(),
		cleaner:  ai.NewResponseCleaner(),
		provider: provider,
	}
}

// Provider names the upstream dependency.
func (c *Client) Provider() string { return c.provider }

// Complete sends one system+user chat completion request.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	lg := observability.LoggerFromContext(ctx)
	if c.cfg.AIAPIKey == "" {
		lg.Error("AI API key missing", slog.String("provider", c.provider))
		return domain.Completion{}, &domain.AIError{Kind: domain.KindAuth, Op: opComplete, Err: errors.New("AI_API_KEY missing")}
	}

	model := req.Options.Model
	if model == "" {
		model = c.cfg.AIModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemMessage != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemMessage})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	start := time.Now()
	if err := c.pacer.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot fit the next token.
		aerr := &domain.AIError{Kind: domain.KindTimeout, Op: "chat.pace", Err: err}
		if errors.Is(err, context.Canceled) {
			aerr.Kind = domain.KindUnknown
		}
		observability.ObserveAIRequest(c.provider, aerr.Kind.String(), time.Since(start))
		return domain.Completion{}, aerr
	}

	slot := &retryAfterSlot{}
	resp, err := c.api.CreateChatCompletion(context.WithValue(ctx, retryAfterKey{}, slot), openai.ChatCompletionRequest{
		Model:            model,
		Messages:         messages,
		Temperature:      req.Options.Temperature,
		MaxTokens:        req.Options.MaxTokens,
		TopP:             req.Options.TopP,
		FrequencyPenalty: req.Options.FrequencyPenalty,
		PresencePenalty:  req.Options.PresencePenalty,
	})
	latency := time.Since(start)
	if err != nil {
		aerr := classify(err, slot.get())
		observability.ObserveAIRequest(c.provider, aerr.Kind.String(), latency)
		lg.Warn("ai provider call failed",
			slog.String("provider", c.provider),
			slog.String("model", model),
			slog.String("kind", aerr.Kind.String()),
			slog.Int("status", aerr.Status),
			slog.Duration("retry_after", aerr.RetryAfter),
			slog.Any("error", err))
		return domain.Completion{}, aerr
	}

	if len(resp.Choices) == 0 {
		observability.ObserveAIRequest(c.provider, domain.KindUnknown.String(), latency)
		lg.Error("ai provider returned empty choices", slog.String("provider", c.provider), slog.String("model", model))
		return domain.Completion{}, &domain.AIError{Kind: domain.KindUnknown, Op: opComplete, Err: errors.New("empty choices")}
	}
	text := c.cleaner.Clean(resp.Choices[0].Message.Content)
	if text == "" {
		observability.ObserveAIRequest(c.provider, domain.KindUnknown.String(), latency)
		return domain.Completion{}, &domain.AIError{Kind: domain.KindUnknown, Op: opComplete, Err: errors.New("empty response content")}
	}

	out := domain.Completion{
		Text:             text,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Latency:          latency,
	}
	if out.Model == "" {
		out.Model = model
	}
	if out.PromptTokens == 0 && out.CompletionTokens == 0 {
		usage := c.counter.EstimateUsage(req.SystemMessage, req.Prompt, text, model)
		out.PromptTokens, out.CompletionTokens = usage.PromptTokens, usage.CompletionTokens
	}
	observability.ObserveAIRequest(c.provider, "success", latency)
	observability.RecordAITokenUsage(c.provider, out.PromptTokens, out.CompletionTokens)
	lg.Debug("ai provider call succeeded",
		slog.String("provider", c.provider),
		slog.String("model", out.Model),
		slog.Duration("latency", latency),
		slog.Int("prompt_tokens", out.PromptTokens),
		slog.Int("completion_tokens", out.CompletionTokens))
	return out, nil
}

// classify maps a go-openai or transport error onto the error taxonomy.
func classify(err error, retryAfter time.Duration) *domain.AIError {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	aerr := &domain.AIError{Op: opComplete, Status: status, Err: err}
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		aerr.Kind = domain.KindAuth
	case status == http.StatusTooManyRequests:
		aerr.Kind = domain.KindUpstreamRateLimited
		aerr.RetryAfter = retryAfter
	case status >= 500:
		aerr.Kind = domain.KindServer
	case status != 0:
		aerr.Kind = domain.KindUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		aerr.Kind = domain.KindTimeout
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		aerr.Kind = domain.KindNetwork
	default:
		aerr.Kind = domain.KindUnknown
	}
	return aerr
}

type retryAfterKey struct{}

// retryAfterSlot receives the Retry-After of a 429; go-openai does not
// expose response headers on errors.
type retryAfterSlot struct {
	d time.Duration
}

func (s *retryAfterSlot) get() time.Duration {
	if s == nil {
		return 0
	}
	return s.d
}

type retryAfterTransport struct {
	base http.RoundTripper
}

func (t *retryAfterTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(r)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if slot, ok := r.Context().Value(retryAfterKey{}).(*retryAfterSlot); ok {
		slot.d = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return resp, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date. Unparseable or past
// values yield 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
