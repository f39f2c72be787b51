package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/internal/usecase"
)

const cliCallerID = "cli"

type askOptions struct {
	mode     string
	language string
	system   string
	noCache  bool
	retry    bool
	timeout  time.Duration
}

func newAskCmd(c *cli) *cobra.Command {
	o := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <prompt...>",
		Short: "Send one prompt through the completion pipeline and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out, err := c.ask(ctx, strings.Join(args, " "), o)
			if err != nil {
				return fmt.Errorf("%s (%w)", domain.UserMessage(err), err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.mode, "mode", "chat", "chat, code, explain or review")
	f.StringVar(&o.language, "language", "", "language for code and review modes")
	f.StringVar(&o.system, "system", "", "system message for chat mode (default: chat persona)")
	f.BoolVar(&o.noCache, "no-cache", false, "skip the response cache")
	f.BoolVar(&o.retry, "retry", false, "retry transient failures with backoff")
	f.DurationVar(&o.timeout, "timeout", 2*time.Minute, "overall deadline")
	return cmd
}

func (c *cli) ask(ctx context.Context, prompt string, o *askOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	svc, err := buildServices(ctx, c.cfg)
	if err != nil {
		return "", err
	}
	defer svc.Close()
	chat := svc.chat

	req, err := askRequest(chat, prompt, o)
	if err != nil {
		return "", err
	}
	if o.retry {
		return chat.RetryGenerate(ctx, req, ai.RetryPolicyFromConfig(c.cfg.GetRetryConfig()))
	}
	return chat.GenerateResponse(ctx, req)
}

// askRequest maps the mode flags onto a request. --no-cache applies to every
// mode; --system only to chat.
func askRequest(chat *usecase.ChatService, prompt string, o *askOptions) (domain.ChatRequest, error) {
	var req domain.ChatRequest
	switch o.mode {
	case "code":
		req = chat.CodeRequest(cliCallerID, prompt, o.language)
	case "explain":
		req = chat.ExplanationRequest(cliCallerID, prompt)
	case "review":
		req = chat.ReviewRequest(cliCallerID, prompt, o.language)
	case "chat":
		req = domain.ChatRequest{CallerID: cliCallerID, Prompt: prompt, SystemMessage: o.system}
		if req.SystemMessage == "" {
			req.SystemMessage = chat.ChatSystemMessage()
		}
	default:
		return domain.ChatRequest{}, &domain.AIError{Kind: domain.KindValidation, Op: "cli.ask", Err: fmt.Errorf("unknown mode %q", o.mode)}
	}
	if o.system != "" && o.mode != "chat" {
		return domain.ChatRequest{}, &domain.AIError{Kind: domain.KindValidation, Op: "cli.ask", Err: errors.New("--system is only valid in chat mode")}
	}
	req.BypassCache = o.noCache
	return req, nil
}
