// Package main is the entry point for the terminal client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/celia/internal/app"
	"github.com/capitalize-ai/celia/internal/config"
	"github.com/capitalize-ai/celia/pkg/logger"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfg      *config.Config
	log      *logger.Logger
	stateDir string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "celia",
		Short:         "Chat with the Celia assistant from your terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.stateDir, "state-dir", "", "directory for the saved session and log file (default: user config dir)")

	root.AddCommand(
		newChatCmd(c),
		newHistoryCmd(c),
		newAuthCmd(c),
	)
	return root
}

func (c *cli) setup() error {
	c.cfg = config.Load()
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	if c.stateDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locate config dir: %w", err)
		}
		c.stateDir = filepath.Join(dir, "celia")
	}
	if err := os.MkdirAll(c.stateDir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	// The terminal belongs to the UI, so logs always go to a file.
	output := c.cfg.LogFile
	if output == "" || output == "stdout" || output == "stderr" {
		output = filepath.Join(c.stateDir, "celia.log")
	}
	log, err := logger.NewWithOutput(c.cfg.LogLevel, output)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	c.log = log
	logger.SetGlobal(log)
	return nil
}

func (c *cli) app(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, c.cfg, "cli", c.log)
	if err != nil {
		c.log.Error("failed to initialize", zap.Error(err))
		return nil, err
	}
	return a, nil
}
