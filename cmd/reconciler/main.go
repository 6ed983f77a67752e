package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"laundromat-importer/packages/config"
	"laundromat-importer/packages/db"
	"laundromat-importer/packages/logging"
	"laundromat-importer/packages/metrics"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		slog.Error("Reconciler failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.EnvDatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Setup(cfg, "reconciler")

	slog.Info("--- Starting counter reconciler ---", "interval", cfg.ReconcileEvery)
	if cfg.MetricsAddr != "" {
		go metrics.ExposeMetrics(cfg.MetricsAddr)
	}

	storage, err := db.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer storage.Close()

	interval := cfg.ReconcileEvery
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	gaugeTicker := time.NewTicker(time.Minute)
	defer gaugeTicker.Stop()
	reconcileTicker := time.NewTicker(interval)
	defer reconcileTicker.Stop()

	reconcile(ctx, storage)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received. Exiting...")
			return nil
		case <-gaugeTicker.C:
			if err := storage.RefreshGauges(ctx); err != nil {
				slog.Error("Failed to refresh gauges", "error", err)
			}
		case <-reconcileTicker.C:
			reconcile(ctx, storage)
		}
	}
}

func reconcile(ctx context.Context, storage *db.Storage) {
	if err := storage.RecomputeCounters(ctx); err != nil {
		slog.Error("Failed to recompute counters", "error", err)
	}
	if err := storage.RefreshGauges(ctx); err != nil {
		slog.Error("Failed to refresh gauges", "error", err)
	}
}
