// Package observability provides logging, metrics, and tracing.
//
// Metrics cover the HTTP surface and every stage of the AI request path:
// cache, rate limiting, connection pool, circuit breakers and the upstream
// completion call itself.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of upstream AI requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Upstream AI request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Tokens consumed by upstream AI requests",
		},
		[]string{"provider", "type"},
	)

	AICacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_cache_lookups_total",
			Help: "Response cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)
	AIRateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_rate_limit_decisions_total",
			Help: "Sliding-window limiter decisions by scope and decision",
		},
		[]string{"scope", "decision"},
	)
	AIPoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_pool_connections",
			Help: "Connection pool slots by state (active, waiting)",
		},
		[]string{"state"},
	)
	AIPoolWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_pool_wait_duration_seconds",
			Help:    "Time spent waiting for a connection pool slot",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
	CircuitBreakerShortCircuits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_short_circuits_total",
			Help: "Calls rejected without reaching the protected dependency",
		},
		[]string{"name"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AITokensTotal,
			AICacheLookupsTotal,
			AIRateLimitDecisionsTotal,
			AIPoolConnections,
			AIPoolWaitDuration,
			CircuitBreakerState,
			CircuitBreakerShortCircuits,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAIRequest records one upstream call and its outcome label.
func ObserveAIRequest(provider, outcome string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, outcome).Inc()
	AIRequestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordAITokenUsage adds prompt/completion token counts.
func RecordAITokenUsage(provider string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		AITokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		AITokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordCacheLookup counts a response cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		AICacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	AICacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordRateLimitDecision counts an allow/deny decision for a limiter scope.
func RecordRateLimitDecision(scope string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	AIRateLimitDecisionsTotal.WithLabelValues(scope, decision).Inc()
}

// SetPoolConnections publishes the pool's active and waiting counts.
func SetPoolConnections(active, waiting int) {
	AIPoolConnections.WithLabelValues("active").Set(float64(active))
	AIPoolConnections.WithLabelValues("waiting").Set(float64(waiting))
}

// ObservePoolWait records how long an acquirer waited for a slot.
func ObservePoolWait(d time.Duration) {
	AIPoolWaitDuration.Observe(d.Seconds())
}

// RecordCircuitBreakerState publishes a breaker's state as a gauge value.
func RecordCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerShortCircuit counts a call the breaker rejected.
func RecordCircuitBreakerShortCircuit(name string) {
	CircuitBreakerShortCircuits.WithLabelValues(name).Inc()
}
