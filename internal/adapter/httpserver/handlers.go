package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/config"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/internal/usecase"
)

const maxChatBodyBytes = 256 << 10

// ChatService is the façade as seen by the HTTP handlers.
type ChatService interface {
	GenerateResponse(ctx context.Context, req domain.ChatRequest) (string, error)
	ChatSystemMessage() string
	Stats() usecase.ServiceStats
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg  config.Config
	Chat ChatService
	// RedisCheck probes the shared limiter backend; nil when it is not used.
	RedisCheck func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, chat ChatService, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Chat: chat, RedisCheck: redisCheck}
}

type chatRequest struct {
	Prompt        string `json:"prompt" validate:"required"`
	SystemMessage string `json:"system_message" validate:"max=8000"`
	// UseCache defaults to true when omitted.
	UseCache *bool `json:"use_cache"`
	// CallerID is a client-side reference for logs only; rate limiting is
	// keyed on the remote address.
	CallerID string `json:"caller_id" validate:"omitempty,max=128"`
}

type chatResponse struct {
	Response  string `json:"response"`
	RequestID string `json:"request_id,omitempty"`
}

// ChatHandler answers POST /v1/chat.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a},
			}})
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
			writeError(w, r, fmt.Errorf("%w: content-type must be application/json", domain.ErrInvalidArgument), nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
		var body chatRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := getValidator().Struct(body); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), validationDetails(err))
			return
		}

		req := domain.ChatRequest{
			CallerID:      "ip:" + clientIP(r),
			Prompt:        body.Prompt,
			SystemMessage: body.SystemMessage,
			BypassCache:   body.UseCache != nil && !*body.UseCache,
		}
		if body.CallerID != "" {
			LoggerFrom(r).Debug("chat request", slog.String("client_ref", body.CallerID), slog.String("caller_id", req.CallerID))
		}
		if req.SystemMessage == "" {
			req.SystemMessage = s.Chat.ChatSystemMessage()
		}

		text, err := s.Chat.GenerateResponse(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Response: text, RequestID: observability.RequestIDFromContext(r.Context())})
	}
}

// StatsHandler answers GET /v1/stats with the façade snapshot.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Chat.Stats())
	}
}

// HealthzHandler reports liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes Redis, when configured, and reports breakers that
// are currently open.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make([]check, 0, 2)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
			}
		}
		// Open breakers are reported but do not fail readiness.
		var open []string
		for name, b := range s.Chat.Stats().Breakers {
			if b.State == "open" {
				open = append(open, name)
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks, "open_breakers": open})
	}
}

func validationDetails(err error) []map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]map[string]string, 0, len(ve))
	for _, fe := range ve {
		out = append(out, map[string]string{"field": strings.ToLower(fe.Field()), "rule": fe.Tag()})
	}
	return out
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
