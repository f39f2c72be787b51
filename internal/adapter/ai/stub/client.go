// Package stub provides an offline CompletionClient for local runs and demos.
// It never touches the network; selecting it requires AI_PROVIDER=stub.
package stub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/pkg/textx"
)

// Client is a fast, deterministic completion client.
type Client struct {
	// Latency simulates upstream processing time.
	Latency time.Duration
}

// New returns a stub client with a small simulated latency.
func New() *Client { return &Client{Latency: 50 * time.Millisecond} }

// Provider names the stub dependency.
func (c *Client) Provider() string { return "stub" }

// Complete echoes a summary of the request after the simulated latency.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	start := time.Now()
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return domain.Completion{}, &domain.AIError{Kind: domain.KindTimeout, Op: "stub.complete", Err: ctx.Err()}
		}
	}
	prompt := strings.TrimSpace(req.Prompt)
	words := len(strings.Fields(prompt))
	text := fmt.Sprintf("(stub) You asked %d word(s): %q", words, textx.Truncate(prompt, 200))
	return domain.Completion{
		Text:             text,
		Model:            "stub",
		PromptTokens:     words,
		CompletionTokens: len(strings.Fields(text)),
		Latency:          time.Since(start),
	}, nil
}
