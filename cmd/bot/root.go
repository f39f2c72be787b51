package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/config"
)

// cli holds state shared by the subcommands once the root pre-run has
// loaded configuration.
type cli struct {
	envFile string
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "bot",
		Short:         "AI chat bot for Discord with a resilient completion pipeline",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newServeCmd(c), newAskCmd(c), newVersionCmd())
	return root
}

// load reads the optional dotenv file, then the environment, and installs
// the default logger.
func (c *cli) load() error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("op=cli.load: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	slog.SetDefault(observability.SetupLogger(cfg))
	return nil
}
