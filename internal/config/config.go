// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-discord-bot"`

	// Upstream completion endpoint (OpenAI-compatible).
	AIProvider      string        `env:"AI_PROVIDER" envDefault:"openai" validate:"required"`
	AIAPIKey        string        `env:"AI_API_KEY"`
	AIBaseURL       string        `env:"AI_BASE_URL" envDefault:"https://api.openai.com/v1" validate:"required,url"`
	AIModel         string        `env:"AI_MODEL" envDefault:"gpt-4o-mini" validate:"required"`
	AITemperature   float32       `env:"AI_TEMPERATURE" envDefault:"0.7" validate:"gte=0,lte=2"`
	AIMaxTokens     int           `env:"AI_MAX_TOKENS" envDefault:"2000" validate:"gte=0"`
	AITopP          float32       `env:"AI_TOP_P" envDefault:"1" validate:"gte=0,lte=1"`
	AIFrequencyPen  float32       `env:"AI_FREQUENCY_PENALTY" envDefault:"0" validate:"gte=-2,lte=2"`
	AIPresencePen   float32       `env:"AI_PRESENCE_PENALTY" envDefault:"0" validate:"gte=-2,lte=2"`
	AIHTTPTimeout   time.Duration `env:"AI_HTTP_TIMEOUT" envDefault:"30s"`
	AIMaxRequestsPS float64       `env:"AI_MAX_REQUESTS_PER_SECOND" envDefault:"0"`
	// AIFallbackText is returned while the upstream breaker is open. Empty
	// disables the fallback and surfaces the open-breaker error instead.
	AIFallbackText      string `env:"AI_FALLBACK_RESPONSE" envDefault:"I'm having trouble reaching my AI service right now. Please try again in a minute."`
	PromptTemplatesFile string `env:"PROMPT_TEMPLATES_FILE"`
	MaxPromptRunes      int    `env:"MAX_PROMPT_RUNES" envDefault:"8000" validate:"gt=0"`
	// MaxPromptTokens enables tiktoken-based prompt budgeting when > 0.
	MaxPromptTokens   int `env:"MAX_PROMPT_TOKENS" envDefault:"0" validate:"gte=0"`
	MaxCacheableBytes int `env:"MAX_CACHEABLE_BYTES" envDefault:"10000" validate:"gt=0"`

	// Response cache
	CacheMaxSize         int           `env:"CACHE_MAX_SIZE" envDefault:"1000" validate:"gt=0"`
	CacheTTL             time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	CacheCleanupInterval time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"1m"`

	// Sliding-window rate limits
	RateLimitWindow          time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMaxRequests     int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"10" validate:"gt=0"`
	UpstreamRateLimitMax     int           `env:"UPSTREAM_RATE_LIMIT_MAX_REQUESTS" envDefault:"60" validate:"gt=0"`
	RateLimitCleanupInterval time.Duration `env:"RATE_LIMIT_CLEANUP_INTERVAL" envDefault:"5m"`
	RateLimitStaleAge        time.Duration `env:"RATE_LIMIT_STALE_AGE" envDefault:"1h"`
	// RedisURL switches the limiter to the shared Redis backend when set.
	RedisURL string `env:"REDIS_URL"`

	// Connection pool
	PoolMaxConnections int           `env:"POOL_MAX_CONNECTIONS" envDefault:"10" validate:"gt=0"`
	PoolAcquireTimeout time.Duration `env:"POOL_ACQUIRE_TIMEOUT" envDefault:"60s"`

	// Circuit breaker
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5" validate:"gt=0"`
	BreakerRecoveryTimeout  time.Duration `env:"BREAKER_RECOVERY_TIMEOUT" envDefault:"60s"`

	// Retry with backoff
	RetryMaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3" validate:"gt=0"`
	RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`
	RetryBackoffFactor float64       `env:"RETRY_BACKOFF_FACTOR" envDefault:"2.0" validate:"gte=1"`

	// Discord
	DiscordToken   string `env:"DISCORD_TOKEN"`
	DiscordAppID   string `env:"DISCORD_APPLICATION_ID"`
	DiscordGuildID string `env:"DISCORD_GUILD_ID"`

	// HTTP surface (chat endpoint, stats, metrics)
	HTTPListen            string        `env:"HTTP_LISTEN" envDefault:":8080"`
	HTTPRateLimitPerMin   int           `env:"HTTP_RATE_LIMIT_PER_MIN" envDefault:"30"`
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"90s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load parses environment variables into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Validate: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// DiscordEnabled returns true when a bot token and application ID are configured.
func (c Config) DiscordEnabled() bool {
	return c.DiscordToken != "" && c.DiscordAppID != ""
}
