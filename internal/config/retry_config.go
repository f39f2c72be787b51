package config

import (
	"time"
)

// RetryConfig holds retry-with-backoff settings for idempotent AI calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps every delay.
	MaxDelay time.Duration
	// BackoffFactor is the exponential growth factor between delays.
	BackoffFactor float64
}

// GetRetryConfig returns the retry configuration.
// In test environments, uses much shorter delays for faster test execution.
func (c Config) GetRetryConfig() RetryConfig {
	if c.IsTest() {
		return RetryConfig{
			MaxAttempts:   c.RetryMaxAttempts,
			BaseDelay:     10 * time.Millisecond,
			MaxDelay:      50 * time.Millisecond,
			BackoffFactor: 2,
		}
	}
	return RetryConfig{
		MaxAttempts:   c.RetryMaxAttempts,
		BaseDelay:     c.RetryBaseDelay,
		MaxDelay:      c.RetryMaxDelay,
		BackoffFactor: c.RetryBackoffFactor,
	}
}
