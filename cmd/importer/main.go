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
	"laundromat-importer/packages/crawler"
	"laundromat-importer/packages/db"
	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/driver"
	"laundromat-importer/packages/logging"
	"laundromat-importer/packages/memstore"
	"laundromat-importer/packages/metrics"
	"laundromat-importer/packages/progress"
	"laundromat-importer/packages/source"
	"laundromat-importer/packages/worker"
	"laundromat-importer/packages/writer"

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
		slog.Error("Import failed", "error", err)
		os.Exit(1)
	}
}

type gaugeStore interface {
	writer.Store
	RefreshGauges(ctx context.Context) error
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	var (
		file          = fs.String("file", os.Getenv("IMPORT_FILE"), "CSV or XLSX file to import")
		sheet         = fs.String("sheet", "", "worksheet name for XLSX files (default: first sheet)")
		start         = fs.Int64("start", 0, "start at this row id, discarding the saved checkpoint")
		limit         = fs.Int("limit", 0, "max records per cycle (default PER_RUN_LIMIT)")
		batch         = fs.Int("batch", 0, "records per batch (default BATCH_SIZE)")
		continuous    = fs.Bool("continuous", false, "keep pulling windows until the file is exhausted")
		progressPath  = fs.String("progress", "", "progress file (default PROGRESS_DIR/import.json)")
		dryRun        = fs.Bool("dry-run", false, "transform and write into memory only")
		atomicBatches = fs.Bool("atomic-batches", false, "commit each batch in a single transaction")
		initSchema    = fs.Bool("init-schema", false, "create tables before importing")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var required []string
	if !*dryRun {
		required = append(required, config.EnvDatabaseURL)
	}
	cfg, err := config.Load(required...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Setup(cfg, "importer")

	if *file == "" {
		return errors.New("no input file given, use --file or IMPORT_FILE")
	}

	slog.Info("--- Starting laundromat import ---", "file", *file, "dry_run", *dryRun)
	if cfg.MetricsAddr != "" {
		go metrics.ExposeMetrics(cfg.MetricsAddr)
	}

	records, err := source.Open(*file, *sheet)
	if err != nil {
		return fmt.Errorf("failed to read source file %s: %w", *file, err)
	}
	slog.Info("Source loaded", "records", len(records))

	var store gaugeStore
	if *dryRun {
		store = memstore.New()
	} else {
		storage, err := db.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer storage.Close()
		if *initSchema {
			if err := storage.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
		store = storage
	}

	var inspector worker.Inspector
	if cfg.InspectSites {
		inspector = crawler.New(cfg.FetchTimeout)
	}
	job := worker.NewImporter(records, writer.New(store), inspector)

	dcfg := worker.DriverConfig(cfg)
	if *limit > 0 {
		dcfg.PerRunLimit = *limit
	}
	if *batch > 0 {
		dcfg.BatchSize = *batch
	}
	dcfg.Continuous = *continuous
	dcfg.AtomicBatches = *atomicBatches
	dcfg.StartID = *start

	path := *progressPath
	if path == "" {
		name := job.Name() + ".json"
		if *dryRun {
			name = job.Name() + ".dry-run.json"
		}
		path = filepath.Join(cfg.ProgressDir, name)
	}

	sum, err := driver.New[domain.SourceRecord](job, progress.NewStore(path), dcfg).Run(ctx)
	if err != nil {
		return err
	}
	if err := store.RefreshGauges(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("Failed to refresh gauges", "error", err)
	}

	if *dryRun {
		slog.Info("Dry run complete, nothing was written to the database", "would_insert", sum.Processed)
	}
	if sum.Deferred {
		slog.Warn("Run stopped early, the next run resumes from the checkpoint", "last_processed_id", sum.LastProcessedID)
	}
	return nil
}
