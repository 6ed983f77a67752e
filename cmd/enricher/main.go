package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"laundromat-importer/packages/cache"
	"laundromat-importer/packages/config"
	"laundromat-importer/packages/db"
	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/driver"
	"laundromat-importer/packages/logging"
	"laundromat-importer/packages/metrics"
	"laundromat-importer/packages/places"
	"laundromat-importer/packages/progress"
	"laundromat-importer/packages/worker"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		slog.Error("Enrichment failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enricher", flag.ContinueOnError)
	var (
		start        = fs.Int64("start", 0, "start at this laundromat id, discarding the saved checkpoint")
		limit        = fs.Int("limit", 0, "max records per cycle (default PER_RUN_LIMIT)")
		batch        = fs.Int("batch", 0, "records per batch (default BATCH_SIZE)")
		continuous   = fs.Bool("continuous", false, "keep enriching until no listing is pending")
		progressPath = fs.String("progress", "", "progress file (default PROGRESS_DIR/nearby.json)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.EnvDatabaseURL, config.EnvPlacesAPIKey)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Setup(cfg, "enricher")

	slog.Info("--- Starting nearby places enrichment ---")
	if cfg.MetricsAddr != "" {
		go metrics.ExposeMetrics(cfg.MetricsAddr)
	}

	storage, err := db.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer storage.Close()

	client := places.New(places.Config{
		BaseURL:    cfg.PlacesBaseURL,
		APIKey:     cfg.PlacesAPIKey,
		Timeout:    cfg.FetchTimeout,
		RPS:        cfg.PlacesRPS,
		Burst:      cfg.PlacesBurst,
		MaxResults: cfg.NearbyMaxResults,
		Radius:     cfg.SearchRadius,
		MaxRadius:  cfg.SearchMaxRadius,
	})
	if cfg.RedisAddr != "" {
		rc, err := cache.New(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
			Prefix:   "nearby:",
		})
		if err != nil {
			slog.Warn("Redis unavailable, continuing without lookup cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer rc.Close()
			client.WithCache(rc)
		}
	}

	job := worker.NewNearbyEnricher(storage, client, cfg.LookupConcurrency)

	dcfg := worker.DriverConfig(cfg)
	if *limit > 0 {
		dcfg.PerRunLimit = *limit
	}
	if *batch > 0 {
		dcfg.BatchSize = *batch
	}
	dcfg.Continuous = *continuous
	dcfg.StartID = *start

	path := *progressPath
	if path == "" {
		path = filepath.Join(cfg.ProgressDir, job.Name()+".json")
	}

	sum, err := driver.New[domain.Listing](job, progress.NewStore(path), dcfg).Run(ctx)
	if err != nil {
		return err
	}
	if err := storage.RefreshGauges(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("Failed to refresh gauges", "error", err)
	}
	if sum.Deferred {
		slog.Warn("Lookup quota exhausted, the next run resumes from the checkpoint", "last_processed_id", sum.LastProcessedID)
	}
	return nil
}
