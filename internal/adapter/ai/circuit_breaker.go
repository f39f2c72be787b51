package ai

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

// BreakerConfig configures every breaker created by a CircuitBreakerManager.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// BreakerStats is a point-in-time snapshot of a CircuitBreaker. The request
// counters are cumulative and never reset.
type BreakerStats struct {
	Name               string        `json:"name"`
	State              string        `json:"state"`
	FailureCount       int           `json:"failure_count"`
	FailureThreshold   int           `json:"failure_threshold"`
	RecoveryTimeout    time.Duration `json:"recovery_timeout"`
	LastFailureAt      time.Time     `json:"last_failure_at,omitempty"`
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	ShortCircuited     int64         `json:"short_circuited"`
}

// CircuitBreaker guards one named dependency. It opens after FailureThreshold
// consecutive failures, short-circuits calls until RecoveryTimeout has passed
// since the last failure, then admits a single trial call. The transition
// out of open is evaluated lazily on the next call.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	gb            *gobreaker.CircuitBreaker[struct{}]
	failureCount  int
	lastFailureAt time.Time
	total         int64
	successful    int64
	failed        int64
	shortCircuit  int64
}

// NewCircuitBreaker creates a closed breaker. Non-positive settings fall back
// to a threshold of 5 and a 60s recovery timeout.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	cb := &CircuitBreaker{name: name, cfg: cfg}
	cb.gb = cb.newGoBreaker()
	observability.RecordCircuitBreakerState(name, int(gobreaker.StateClosed))
	return cb
}

func (cb *CircuitBreaker) newGoBreaker() *gobreaker.CircuitBreaker[struct{}] {
	threshold := uint32(cb.cfg.FailureThreshold)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cb.name,
		MaxRequests: 1,
		Timeout:     cb.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsExcluded:    isBreakerExcluded,
		OnStateChange: cb.onStateChange,
	})
}

// isBreakerExcluded reports errors that say nothing about the dependency's
// health. They count as neither success nor failure, so a cancelled
// half-open trial leaves the breaker half-open and frees the trial slot.
// Auth errors are a configuration problem that retrying later cannot fix.
func isBreakerExcluded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindAuth:
		return true
	}
	return false
}

// onStateChange runs under gobreaker's lock; it must not call back into gb.
func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	observability.RecordCircuitBreakerState(name, int(to))
	cb.mu.Lock()
	failures := cb.failureCount
	if to == gobreaker.StateClosed {
		cb.failureCount = 0
	}
	cb.mu.Unlock()

	switch to {
	case gobreaker.StateOpen:
		slog.Warn("circuit breaker opened",
			slog.String("event", "security_event"),
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.Int("failure_count", failures),
			slog.Int("threshold", cb.cfg.FailureThreshold))
	case gobreaker.StateHalfOpen:
		slog.Info("circuit breaker half-open; admitting trial call", slog.String("breaker", name))
	case gobreaker.StateClosed:
		slog.Info("circuit breaker closed after successful recovery", slog.String("breaker", name))
	}
}

// Execute runs fn through the breaker. When the breaker short-circuits, fn is
// not invoked: fallback runs instead, or a CircuitOpen error is returned when
// fallback is nil. Errors from fn are returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error, fallback func(ctx context.Context, err error) error) error {
	cb.mu.Lock()
	gb := cb.gb
	cb.total++
	cb.mu.Unlock()

	_, err := gb.Execute(func() (struct{}, error) {
		ferr := fn(ctx)
		cb.record(ferr)
		return struct{}{}, ferr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		cb.mu.Lock()
		cb.shortCircuit++
		cb.mu.Unlock()
		observability.RecordCircuitBreakerShortCircuit(cb.name)
		openErr := &domain.AIError{Kind: domain.KindCircuitOpen, Op: "breaker." + cb.name, Err: err}
		if fallback != nil {
			return fallback(ctx, openErr)
		}
		return openErr
	}
	return err
}

// record updates the consecutive failure count before gobreaker evaluates
// ReadyToTrip, so the open event reports the tripping count. Excluded errors
// leave the count untouched, as they do inside gobreaker.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.successful++
		cb.failureCount = 0
		return
	}
	cb.failed++
	if isBreakerExcluded(err) {
		return
	}
	cb.failureCount++
	cb.lastFailureAt = time.Now()
}

// State returns the breaker state name: closed, half-open or open.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	gb := cb.gb
	cb.mu.Unlock()
	return gb.State().String()
}

// Name returns the protected dependency's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset closes the breaker and clears its failure count. Cumulative request
// counters are kept.
func (cb *CircuitBreaker) Reset() {
	gb := cb.newGoBreaker()
	cb.mu.Lock()
	cb.gb = gb
	cb.failureCount = 0
	cb.lastFailureAt = time.Time{}
	cb.mu.Unlock()
	observability.RecordCircuitBreakerState(cb.name, int(gobreaker.StateClosed))
	slog.Info("circuit breaker reset", slog.String("breaker", cb.name))
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() BreakerStats {
	// mu must not be held while reading gobreaker state; see onStateChange.
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		Name:               cb.name,
		State:              state,
		FailureCount:       cb.failureCount,
		FailureThreshold:   cb.cfg.FailureThreshold,
		RecoveryTimeout:    cb.cfg.RecoveryTimeout,
		LastFailureAt:      cb.lastFailureAt,
		TotalRequests:      cb.total,
		SuccessfulRequests: cb.successful,
		FailedRequests:     cb.failed,
		ShortCircuited:     cb.shortCircuit,
	}
}

// CircuitBreakerManager hands out one breaker per dependency name.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a manager whose breakers share cfg.
func NewCircuitBreakerManager(cfg BreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b = NewCircuitBreaker(name, m.cfg)
	m.breakers[name] = b
	return b
}

// Reset closes the named breaker. It reports false for unknown names.
func (m *CircuitBreakerManager) Reset(name string) bool {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Stats returns a snapshot of every breaker keyed by name.
func (m *CircuitBreakerManager) Stats() map[string]BreakerStats {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	out := make(map[string]BreakerStats, len(breakers))
	for _, b := range breakers {
		out[b.name] = b.Stats()
	}
	return out
}
