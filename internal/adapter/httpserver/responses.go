package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps the error taxonomy onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case domain.KindRateLimited:
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case domain.KindUpstreamRateLimited:
		return http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMIT"
	case domain.KindTimeout:
		return http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"
	case domain.KindPoolExhausted:
		return http.StatusServiceUnavailable, "POOL_EXHAUSTED"
	case domain.KindCircuitOpen:
		return http.StatusServiceUnavailable, "CIRCUIT_OPEN"
	case domain.KindAuth:
		return http.StatusBadGateway, "UPSTREAM_AUTH"
	case domain.KindServer, domain.KindNetwork:
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	}
	if errors.Is(err, domain.ErrInvalidArgument) {
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// writeError renders the error envelope. Typed AI errors carry only the
// end-user message; their detail goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	status, code := errorStatus(err)
	msg := err.Error()
	var ae *domain.AIError
	if errors.As(err, &ae) {
		msg = domain.UserMessage(err)
		if ae.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ae.RetryAfter.Seconds()))))
		}
	}
	if status >= 500 {
		LoggerFrom(r).Error("request failed", slog.String("code", code), slog.Any("error", err))
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: msg, Details: details}})
}

func httpAttrs(method, target string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.target", target),
		attribute.Int("http.status_code", status),
	}
}
