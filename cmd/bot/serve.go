package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/discord"
	httpserver "github.com/fairyhunter13/ai-discord-bot/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/app"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(parent context.Context) error {
	cfg := c.cfg
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.InitMetrics()
	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	var redisCheck func(context.Context) error
	if svc.redis != nil {
		redisCheck = app.RedisCheck(svc.redis)
	}
	srv := httpserver.NewServer(cfg, svc.chat, redisCheck)
	srvHTTP := &http.Server{
		Addr:              cfg.HTTPListen,
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.String("addr", cfg.HTTPListen))
		errCh <- srvHTTP.ListenAndServe()
	}()

	if cfg.DiscordEnabled() {
		session, err := discord.NewSession(cfg.DiscordToken)
		if err != nil {
			return err
		}
		bot := discord.New(session, svc.chat, cfg.DiscordAppID, cfg.DiscordGuildID)
		if err := bot.Start(); err != nil {
			return err
		}
		defer func() {
			if err := bot.Stop(); err != nil {
				slog.Error("failed to close discord session", slog.Any("error", err))
			}
		}()
		slog.Info("discord bot connected")
	} else {
		slog.Warn("DISCORD_TOKEN or DISCORD_APPLICATION_ID not set; running HTTP API only")
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	return srvHTTP.Shutdown(shutdownCtx)
}
