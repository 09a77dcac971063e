package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyhq/tally/pkg/api"
	"github.com/tallyhq/tally/pkg/collector"
	"github.com/tallyhq/tally/pkg/entries"
	"github.com/tallyhq/tally/pkg/events"
	"github.com/tallyhq/tally/pkg/ledger"
	"github.com/tallyhq/tally/pkg/log"
	"github.com/tallyhq/tally/pkg/storage"
	"github.com/tallyhq/tally/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tally daemon",
	Long: `Run the ticket ledger daemon: the background sync loop plus the HTTP
query API. Configuration comes from a YAML file with flag overrides.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "API listen address (overrides config)")
	serveCmd.Flags().Duration("poll-interval", 0, "Sync interval (overrides config)")
	serveCmd.Flags().String("storage-path", "", "Bolt data directory (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := types.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if interval, _ := cmd.Flags().GetDuration("poll-interval"); interval > 0 {
		cfg.PollInterval = interval
	}
	if path, _ := cmd.Flags().GetString("storage-path"); path != "" {
		cfg.Storage.Path = path
	}

	log.Init(cfg.Log, os.Stdout)
	logger := log.WithComponent("main")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.New(ctx, cfg.Storage)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open ticket store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ldg := ledger.New(store, broker)
	source := entries.NewSource(cfg.Upstream)

	coll := collector.New(source, ldg, store, broker, cfg.PollInterval)
	coll.Start()
	logger.Info().Dur("interval", cfg.PollInterval).Msg("sync loop started")

	server := api.NewServer(store, coll, broker)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Listen)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	}

	coll.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}

	logger.Info().Msg("stopped")
	return nil
}
