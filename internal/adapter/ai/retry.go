package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-discord-bot/internal/config"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

// RetryPolicy bounds RetryWithBackoff. The delay before attempt n+1 is
// min(BaseDelay * BackoffFactor^(n-1), MaxDelay), without jitter.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryCondition decides whether a failed attempt is retried. Nil means
	// DefaultRetryCondition.
	RetryCondition func(err error, attempt int) bool
}

// RetryPolicyFromConfig builds a policy using DefaultRetryCondition.
func RetryPolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    rc.MaxAttempts,
		BaseDelay:      rc.BaseDelay,
		MaxDelay:       rc.MaxDelay,
		BackoffFactor:  rc.BackoffFactor,
		RetryCondition: DefaultRetryCondition,
	}
}

// DefaultRetryCondition retries transient failures only: timeouts, pool
// exhaustion, network and server errors, and upstream 429s.
func DefaultRetryCondition(err error, _ int) bool {
	return domain.IsTransient(err)
}

// RetryWithBackoff calls op with 1-indexed attempt numbers until it succeeds,
// the attempts run out, or RetryCondition rejects the error. The last error
// is returned. Cancelling ctx aborts the wait between attempts.
func RetryWithBackoff(ctx context.Context, op func(ctx context.Context, attempt int) error, policy RetryPolicy) error {
	return retryWithTimer(ctx, op, policy, nil)
}

func retryWithTimer(ctx context.Context, op func(ctx context.Context, attempt int) error, policy RetryPolicy, timer backoff.Timer) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = policy.BaseDelay
	}
	cond := policy.RetryCondition
	if cond == nil {
		cond = DefaultRetryCondition
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.BaseDelay
	expo.Multiplier = policy.BackoffFactor
	expo.MaxInterval = policy.MaxDelay
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	cd := &cooldownBackOff{BackOff: expo}
	bo := backoff.WithContext(backoff.WithMaxRetries(cd, uint64(policy.MaxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= policy.MaxAttempts || !cond(err, attempt) {
			return backoff.Permanent(err)
		}
		var ae *domain.AIError
		if errors.As(err, &ae) && ae.Kind == domain.KindUpstreamRateLimited {
			cd.floor = ae.RetryAfter
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		slog.Warn("retrying after error",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("delay", d),
			slog.Any("error", err))
	}
	return backoff.RetryNotifyWithTimer(operation, bo, notify, timer)
}

// cooldownBackOff raises the next delay to the upstream's Retry-After when a
// 429 asked for a longer wait than the exponential schedule.
type cooldownBackOff struct {
	backoff.BackOff
	floor time.Duration
}

func (c *cooldownBackOff) NextBackOff() time.Duration {
	d := c.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if c.floor > d {
		d = c.floor
	}
	c.floor = 0
	return d
}

func (c *cooldownBackOff) Reset() {
	c.floor = 0
	c.BackOff.Reset()
}
