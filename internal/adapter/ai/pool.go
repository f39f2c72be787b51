package ai

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

// PoolStats is a point-in-time snapshot of a ConnectionPool.
type PoolStats struct {
	Capacity      int   `json:"capacity"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalTimeouts int64 `json:"total_timeouts"`
}

// ConnectionPool bounds the number of concurrent outbound calls. Waiters are
// granted slots strictly in arrival order.
type ConnectionPool struct {
	sem      *semaphore.Weighted
	capacity int

	active   atomic.Int64
	waiting  atomic.Int64
	acquired atomic.Int64
	timeouts atomic.Int64
}

// NewConnectionPool creates a pool with the given capacity (minimum 1).
func NewConnectionPool(capacity int) *ConnectionPool {
	if capacity <= 0 {
		capacity = 1
	}
	return &ConnectionPool{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire takes a slot, waiting in FIFO order while the pool is saturated.
// It has no deadline of its own; when ctx ends first a PoolExhausted error
// is returned and no slot is held.
func (p *ConnectionPool) Acquire(ctx context.Context) error {
	start := time.Now()
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		p.timeouts.Add(1)
		p.publish()
		return &domain.AIError{Kind: domain.KindPoolExhausted, Op: "pool.acquire", Err: err}
	}
	p.active.Add(1)
	p.acquired.Add(1)
	observability.ObservePoolWait(time.Since(start))
	p.publish()
	return nil
}

// Release frees one slot; the longest waiting acquirer receives it next.
// Releasing an idle pool is logged and ignored.
func (p *ConnectionPool) Release() {
	for {
		cur := p.active.Load()
		if cur <= 0 {
			slog.Error("connection pool released more slots than acquired")
			return
		}
		if p.active.CompareAndSwap(cur, cur-1) {
			break
		}
	}
	p.sem.Release(1)
	p.publish()
}

// Do runs fn while holding a slot and releases it on every exit path.
func (p *ConnectionPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

// Stats returns a snapshot of the pool counters.
func (p *ConnectionPool) Stats() PoolStats {
	return PoolStats{
		Capacity:      p.capacity,
		Active:        int(p.active.Load()),
		Waiting:       int(p.waiting.Load()),
		TotalAcquired: p.acquired.Load(),
		TotalTimeouts: p.timeouts.Load(),
	}
}

func (p *ConnectionPool) publish() {
	observability.SetPoolConnections(int(p.active.Load()), int(p.waiting.Load()))
}
