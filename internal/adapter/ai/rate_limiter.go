package ai

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LimiterConfig configures a SlidingWindowLimiter.
type LimiterConfig struct {
	// StaleAge is how long a key may go without requests before Cleanup
	// forgets it.
	StaleAge        time.Duration
	CleanupInterval time.Duration
}

// LimiterStats is a point-in-time snapshot of a SlidingWindowLimiter.
type LimiterStats struct {
	TrackedKeys int   `json:"tracked_keys"`
	Allowed     int64 `json:"allowed"`
	Denied      int64 `json:"denied"`
}

// SlidingWindowLimiter counts requests per key over a trailing window.
// Keys are independent, so one instance can serve several policies by
// namespacing keys (e.g. "user:<id>", "upstream:openai").
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	cfg     LimiterConfig
	now     func() time.Time
	stop    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	allowed int64
	denied  int64
}

// NewSlidingWindowLimiter creates an in-memory limiter. Non-positive settings
// fall back to a one hour stale age and a five minute cleanup interval.
func NewSlidingWindowLimiter(cfg LimiterConfig) *SlidingWindowLimiter {
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	return &SlidingWindowLimiter{
		windows: make(map[string][]time.Time),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// CheckLimit prunes key's history to the trailing window and records the
// request if fewer than limit remain. A denied attempt is not recorded.
// A non-positive limit disables limiting for the call.
func (l *SlidingWindowLimiter) CheckLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	ts := l.windows[key]
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	ts = ts[i:]

	if len(ts) >= limit {
		l.windows[key] = ts
		l.denied++
		return false, nil
	}
	l.windows[key] = append(ts, now)
	l.allowed++
	return true, nil
}

// Cleanup forgets keys whose newest request is older than the stale age and
// returns how many keys were removed.
func (l *SlidingWindowLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.cfg.StaleAge)
	removed := 0
	for k, ts := range l.windows {
		if len(ts) == 0 || ts[len(ts)-1].Before(cutoff) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// Start launches periodic cleanup until ctx is done or Stop is called.
func (l *SlidingWindowLimiter) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(l.cfg.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := l.Cleanup(); n > 0 {
						slog.Debug("cleaned up stale rate limit keys", slog.Int("count", n))
					}
				case <-l.stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// Stop terminates periodic cleanup.
func (l *SlidingWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Stats returns a snapshot of the limiter counters.
func (l *SlidingWindowLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{
		TrackedKeys: len(l.windows),
		Allowed:     l.allowed,
		Denied:      l.denied,
	}
}
