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
		slog.Error("Geocoding failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("geocoder", flag.ContinueOnError)
	var (
		start        = fs.Int64("start", 0, "start at this laundromat id, discarding the saved checkpoint")
		limit        = fs.Int("limit", 0, "max records per cycle (default PER_RUN_LIMIT)")
		batch        = fs.Int("batch", 0, "records per batch (default BATCH_SIZE)")
		continuous   = fs.Bool("continuous", false, "keep going until every listing has an address")
		progressPath = fs.String("progress", "", "progress file (default PROGRESS_DIR/geocode.json)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.EnvDatabaseURL, config.EnvPlacesAPIKey)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Setup(cfg, "geocoder")

	slog.Info("--- Starting reverse geocoding ---")
	if cfg.MetricsAddr != "" {
		go metrics.ExposeMetrics(cfg.MetricsAddr)
	}

	storage, err := db.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer storage.Close()

	client := places.New(places.Config{
		BaseURL: cfg.PlacesBaseURL,
		APIKey:  cfg.PlacesAPIKey,
		Timeout: cfg.FetchTimeout,
		RPS:     cfg.PlacesRPS,
		Burst:   cfg.PlacesBurst,
	})
	job := worker.NewGeocoder(storage, client)

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

	_, err = driver.New[domain.Listing](job, progress.NewStore(path), dcfg).Run(ctx)
	return err
}
