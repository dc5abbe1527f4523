package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vectorize/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vectorize HTTP server",
		Long:  "Load configuration, reopen journaled and snapshotted indexes, and serve them over HTTP.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Apply flag overrides.
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := WireService(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	svc.Logger.InfoContext(ctx, "starting vectorize",
		"listen", cfg.Server.Listen,
		"version", version,
		"indexes", len(svc.Registry.List()),
	)
	return svc.Run(ctx)
}

