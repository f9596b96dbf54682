package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docqa/internal/logutil"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logutil.GetLogger(ctx).Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "docqa",
		Short:        "Document question answering over a local TF-IDF index",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"path to YAML config (defaults to ./config.yaml or ~/.config/docqa/config.yaml)")

	root.AddCommand(
		newIngestCmd(&configPath),
		newReindexCmd(&configPath),
		newQueryCmd(&configPath),
		newAskCmd(&configPath),
		newAuditCmd(&configPath),
		newHealthCmd(&configPath),
		newTUICmd(&configPath),
		newWatchCmd(&configPath),
		newMCPCmd(&configPath),
	)
	return root
}
