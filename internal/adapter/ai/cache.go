// Package ai provides the resilience primitives wrapped around upstream AI
// calls: a TTL response cache, a sliding-window limiter, a FIFO connection
// pool, circuit breakers and retry with backoff.
package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

// CacheConfig configures a ResponseCache.
type CacheConfig struct {
	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// CacheStats is a point-in-time snapshot of a ResponseCache.
type CacheStats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
	hitCount  int64
}

// ResponseCache is a bounded TTL cache with least-recently-used eviction.
// Expiry is checked on every read, and a background sweep removes entries
// that are never read again. It is safe for concurrent use.
type ResponseCache struct {
	mu   sync.Mutex
	lru  *simplelru.LRU[string, *cacheEntry]
	cfg  CacheConfig
	now  func() time.Time
	stop chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewResponseCache creates a cache. Non-positive settings fall back to
// 1000 entries, a one hour TTL and a one minute sweep.
func NewResponseCache(cfg CacheConfig) *ResponseCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	// NewLRU only fails for a non-positive size, which is ruled out above.
	lru, _ := simplelru.NewLRU[string, *cacheEntry](cfg.MaxSize, nil)
	return &ResponseCache{
		lru:  lru,
		cfg:  cfg,
		now:  time.Now,
		stop: make(chan struct{}),
	}
}

// Set stores value under key. A non-positive ttl uses the default TTL.
// Inserting a new key into a full cache evicts the least recently accessed
// entry.
func (c *ResponseCache) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Add(key, &cacheEntry{value: value, expiresAt: c.now().Add(ttl)}) {
		c.evictions++
	}
}

// Get returns the value for key if present and unexpired, marking it as
// most recently used. Expired entries are deleted and reported absent.
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		c.misses++
		return "", false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		c.expirations++
		c.misses++
		return "", false
	}
	c.lru.Get(key)
	e.hitCount++
	c.hits++
	return e.value, true
}

// Has reports whether a fresh entry exists without touching its recency.
func (c *ResponseCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		c.expirations++
		return false
	}
	return true
}

// Delete removes key.
func (c *ResponseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear removes every entry. Counters are kept.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Sweep removes all expired entries and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && !now.Before(e.expiresAt) {
			c.lru.Remove(k)
			removed++
		}
	}
	c.expirations += int64(removed)
	return removed
}

// Start launches the periodic sweep. It runs until ctx is done or Stop is
// called; calling Start again is a no-op.
func (c *ResponseCache) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.sweepLoop(ctx)
	})
}

// Stop terminates the periodic sweep.
func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *ResponseCache) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("swept expired cache entries", slog.Int("count", n))
			}
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{
		Size:        c.lru.Len(),
		Capacity:    c.cfg.MaxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// fingerprintPayload is the canonical cache-key input. Field order is fixed
// by the struct so the encoding is stable.
type fingerprintPayload struct {
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system"`
	Model   string                 `json:"model"`
	Options domain.GenerateOptions `json:"options"`
}

// Fingerprint returns a stable hex SHA-256 over prompt, system message,
// model and generation options.
func Fingerprint(prompt, system string, opts domain.GenerateOptions) string {
	b, _ := json.Marshal(fingerprintPayload{
		Prompt:  prompt,
		System:  system,
		Model:   opts.Model,
		Options: opts,
	})
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
