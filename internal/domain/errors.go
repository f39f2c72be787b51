package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrRateLimited       = errors.New("rate limited")
	ErrPoolExhausted     = errors.New("connection pool exhausted")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUnauthorized      = errors.New("upstream authentication failed")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUpstreamServer    = errors.New("upstream server error")
	ErrNetwork           = errors.New("network error")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrInternal          = errors.New("internal error")
)

// ErrorKind classifies a failure of the AI request path.
type ErrorKind int

const (
	// KindUnknown is anything that could not be categorized.
	KindUnknown ErrorKind = iota
	// KindRateLimited means the caller exceeded the local request rate.
	KindRateLimited
	// KindPoolExhausted means no connection slot became free in time.
	KindPoolExhausted
	// KindTimeout means the upstream call exceeded its deadline.
	KindTimeout
	// KindAuth covers upstream 401/403 responses.
	KindAuth
	// KindUpstreamRateLimited covers upstream 429 responses.
	KindUpstreamRateLimited
	// KindServer covers upstream 5xx responses.
	KindServer
	// KindNetwork covers dial, DNS and connection failures.
	KindNetwork
	// KindValidation means the input was rejected before any network call.
	KindValidation
	// KindCircuitOpen means the breaker short-circuited the call.
	KindCircuitOpen
)

var kindNames = map[ErrorKind]string{
	KindUnknown:             "unknown",
	KindRateLimited:         "rate_limited",
	KindPoolExhausted:       "pool_exhausted",
	KindTimeout:             "timeout",
	KindAuth:                "auth",
	KindUpstreamRateLimited: "upstream_rate_limited",
	KindServer:              "server",
	KindNetwork:             "network",
	KindValidation:          "validation",
	KindCircuitOpen:         "circuit_open",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Sentinel returns the package sentinel matched by errors.Is for this kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindPoolExhausted:
		return ErrPoolExhausted
	case KindTimeout:
		return ErrUpstreamTimeout
	case KindAuth:
		return ErrUnauthorized
	case KindUpstreamRateLimited:
		return ErrUpstreamRateLimit
	case KindServer:
		return ErrUpstreamServer
	case KindNetwork:
		return ErrNetwork
	case KindValidation:
		return ErrInvalidArgument
	case KindCircuitOpen:
		return ErrCircuitOpen
	default:
		return ErrInternal
	}
}

// Transient reports whether a failure of this kind may succeed when repeated.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindPoolExhausted, KindTimeout, KindNetwork, KindServer, KindUpstreamRateLimited:
		return true
	default:
		return false
	}
}

// AIError is the typed failure produced at the upstream boundary and by the
// request facade.
type AIError struct {
	Kind ErrorKind
	// Op names the operation that failed, e.g. "chat.complete".
	Op string
	// Status is the upstream HTTP status, 0 when no response was received.
	Status int
	// RetryAfter is the cooldown the upstream asked for on 429.
	RetryAfter time.Duration
	Err        error
}

// NewAIError builds an AIError; err may be nil.
func NewAIError(kind ErrorKind, op string, err error) *AIError {
	return &AIError{Kind: kind, Op: op, Err: err}
}

func (e *AIError) Error() string {
	msg := fmt.Sprintf("op=%s kind=%s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AIError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so callers can keep using
// errors.Is(err, domain.ErrRateLimited) style checks.
func (e *AIError) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// KindOf extracts the ErrorKind of err, or KindUnknown when err carries none.
func KindOf(err error) ErrorKind {
	var ae *AIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Transient()
}

// UserMessage maps a failure to text that is safe to show an end user.
// Upstream detail stays in the logs.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindRateLimited:
		return "You're sending requests too quickly. Please try again shortly."
	case KindUpstreamRateLimited:
		return "The AI service is busy right now. Please try again shortly."
	case KindValidation:
		return "That request couldn't be processed. Please shorten or rephrase it."
	case KindAuth:
		return "The bot is misconfigured and can't reach the AI service. Please notify an administrator."
	default:
		return "Sorry, I couldn't generate a response right now. Please try again later."
	}
}
