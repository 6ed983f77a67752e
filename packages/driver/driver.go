// Package driver runs resumable, rate-limited batch jobs.
//
// A Job yields records in ascending ID order after a checkpoint. The driver
// pulls up to PerRunLimit records, processes them sequentially in chunks of
// BatchSize with a pause between items and between chunks, and saves the
// checkpoint after every committed record. Rate-limit and transient errors
// are retried with exponential backoff; any other error is recorded against
// the record and the run moves on.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"laundromat-importer/packages/metrics"
	"laundromat-importer/packages/progress"
)

var (
	// ErrRateLimited means the upstream quota is exhausted for now. The
	// record is retried after a backoff and never skipped.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient covers network failures and timeouts worth retrying.
	ErrTransient = errors.New("transient failure")

	errDeferred = errors.New("deferred to a later run")
)

// Outcome describes a processed record. Group feeds the per-group counters
// in the progress file (the record's state, for example).
type Outcome struct {
	Skipped bool
	Group   string
}

type Job[T any] interface {
	Name() string
	// Fetch returns up to limit records with ID > afterID in ascending ID order.
	Fetch(ctx context.Context, afterID int64, limit int) ([]T, error)
	ID(item T) int64
	Process(ctx context.Context, item T) (Outcome, error)
}

// Counter is implemented by jobs that can report how many records remain.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// BatchJob is implemented by jobs that can commit a whole chunk atomically.
type BatchJob[T any] interface {
	ProcessBatch(ctx context.Context, items []T) ([]Outcome, error)
}

type Checkpointer interface {
	Load() *progress.State
	Save(state *progress.State) error
}

type Config struct {
	BatchSize   int
	PerRunLimit int
	ItemDelay   time.Duration
	BatchDelay  time.Duration
	// Jitter is a fraction in [0,1); delays are scaled by 1±Jitter.
	Jitter       float64
	Continuous   bool
	MaxCycles    int
	LoopInterval time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// AtomicBatches commits each chunk in one unit when the job supports it.
	AtomicBatches bool
	// StartID, when positive, discards the saved checkpoint and starts at this ID.
	StartID int64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.PerRunLimit <= 0 {
		c.PerRunLimit = 100
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	return c
}

type Summary struct {
	Processed       int
	Skipped         int
	Failed          int
	Cycles          int
	LastProcessedID int64
	Deferred        bool
	Interrupted     bool
}

type Driver[T any] struct {
	job   Job[T]
	store Checkpointer
	cfg   Config

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

func New[T any](job Job[T], store Checkpointer, cfg Config) *Driver[T] {
	return &Driver[T]{
		job:   job,
		store: store,
		cfg:   cfg.withDefaults(),
		Sleep: SleepContext,
		rand:  rand.Float64,
	}
}

// Run executes one invocation: a single fetch window in single-run mode, or
// repeated windows separated by LoopInterval in continuous mode until the
// source is exhausted, MaxCycles is reached or ctx is cancelled. In
// continuous mode a deferred record does not end the run; the next cycle
// retries it after a cooldown. Progress is flushed before returning. Only
// unrecoverable failures (source unreachable, progress not writable) are
// returned as errors.
func (d *Driver[T]) Run(ctx context.Context) (Summary, error) {
	name := d.job.Name()
	state := d.store.Load()
	if d.cfg.StartID > 0 {
		slog.Info("Starting from explicit record id", "job", name, "start_id", d.cfg.StartID)
		state.Reset(d.cfg.StartID)
	}

	if counter, ok := d.job.(Counter); ok {
		total, err := counter.Count(ctx)
		if err != nil {
			slog.Warn("Could not count source records", "job", name, "error", err)
		} else {
			state.TotalCount = total
		}
	}

	slog.Info("Batch run starting",
		"job", name,
		"last_processed_id", state.LastProcessedID,
		"batch_size", d.cfg.BatchSize,
		"per_run_limit", d.cfg.PerRunLimit,
		"continuous", d.cfg.Continuous,
	)

	var sum Summary
	for {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}

		items, err := d.job.Fetch(ctx, state.LastProcessedID, d.cfg.PerRunLimit)
		if err != nil {
			if ctx.Err() != nil {
				sum.Interrupted = true
				break
			}
			_ = d.store.Save(state)
			return sum, fmt.Errorf("failed to fetch records after id %d: %w", state.LastProcessedID, err)
		}
		if len(items) == 0 {
			slog.Info("Source exhausted", "job", name, "last_processed_id", state.LastProcessedID)
			break
		}

		sum.Cycles++
		stop, err := d.runCycle(ctx, state, items, &sum)
		if err != nil {
			return sum, err
		}
		if sum.Interrupted || !d.cfg.Continuous {
			break
		}
		if d.cfg.MaxCycles > 0 && sum.Cycles >= d.cfg.MaxCycles {
			slog.Warn("Reached max cycles, stopping", "job", name, "max_cycles", d.cfg.MaxCycles)
			break
		}

		// A deferred cycle resumes from the same checkpoint after a cooldown
		// at least as long as the longest backoff.
		wait := d.cfg.LoopInterval
		if stop {
			wait = max(d.cfg.LoopInterval, d.cfg.BackoffMax)
			if err := d.store.Save(state); err != nil {
				return sum, fmt.Errorf("failed to save progress: %w", err)
			}
			slog.Warn("Cycle deferred, retrying from checkpoint after cooldown",
				"job", name, "last_processed_id", state.LastProcessedID, "cooldown", wait)
		} else {
			slog.Info("Cycle finished, sleeping", "job", name, "interval", wait)
		}
		if err := d.Sleep(ctx, wait); err != nil {
			sum.Interrupted = true
			break
		}
	}

	if err := d.store.Save(state); err != nil {
		return sum, fmt.Errorf("failed to flush progress: %w", err)
	}
	sum.LastProcessedID = state.LastProcessedID

	slog.Info("Batch run finished",
		"job", name,
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"deferred", sum.Deferred,
		"interrupted", sum.Interrupted,
		"cycles", sum.Cycles,
		"last_processed_id", sum.LastProcessedID,
		"total_errors", len(state.Errors),
	)
	return sum, nil
}

// runCycle processes one fetched window. It reports stop=true when the
// cycle ends early (interrupt or deferral).
func (d *Driver[T]) runCycle(ctx context.Context, state *progress.State, items []T, sum *Summary) (bool, error) {
	batchJob, atomic := d.job.(BatchJob[T])
	atomic = atomic && d.cfg.AtomicBatches

	chunks := chunk(items, d.cfg.BatchSize)
	for ci, c := range chunks {
		if ctx.Err() != nil {
			sum.Interrupted = true
			return true, nil
		}

		var (
			stop bool
			err  error
		)
		if atomic {
			stop, err = d.runAtomicChunk(ctx, batchJob, state, c, sum)
		} else {
			stop, err = d.runChunk(ctx, state, c, sum)
		}
		if err != nil || stop {
			return stop, err
		}

		state.CompletedBatches++
		if err := d.store.Save(state); err != nil {
			return true, fmt.Errorf("failed to save progress: %w", err)
		}
		slog.Info("Batch complete",
			"job", d.job.Name(),
			"batch", state.CompletedBatches,
			"records", len(c),
			"last_processed_id", state.LastProcessedID,
		)

		if ci < len(chunks)-1 {
			if err := d.pause(ctx, d.cfg.BatchDelay); err != nil {
				sum.Interrupted = true
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *Driver[T]) runChunk(ctx context.Context, state *progress.State, items []T, sum *Summary) (bool, error) {
	name := d.job.Name()
	for i, item := range items {
		// Interrupts are honored between records, never mid-record.
		if ctx.Err() != nil {
			sum.Interrupted = true
			return true, nil
		}

		id := d.job.ID(item)
		outcome, err := withRetry(ctx, d, id, func(workCtx context.Context) (Outcome, error) {
			return d.job.Process(workCtx, item)
		})

		switch {
		case errors.Is(err, errDeferred):
			slog.Warn("Record deferred, checkpoint not advanced", "job", name, "record_id", id, "error", err)
			sum.Deferred = true
			sum.Interrupted = ctx.Err() != nil
			return true, nil
		case err != nil:
			slog.Error("Record failed", "job", name, "record_id", id, "error", err)
			state.AddError(id, err)
			sum.Failed++
			metrics.RecordsProcessed.WithLabelValues(name, "failed").Inc()
		default:
			d.count(state, sum, outcome)
		}

		state.LastProcessedID = id
		if err := d.store.Save(state); err != nil {
			return true, fmt.Errorf("failed to save progress after record %d: %w", id, err)
		}
		metrics.LastProcessedID.WithLabelValues(name).Set(float64(id))

		if i < len(items)-1 {
			if err := d.pause(ctx, d.cfg.ItemDelay); err != nil {
				sum.Interrupted = true
				return true, nil
			}
		}
	}
	return false, nil
}

// runAtomicChunk commits a whole chunk or nothing. A failed chunk stops the
// run without moving the checkpoint so the next run retries it wholesale.
func (d *Driver[T]) runAtomicChunk(ctx context.Context, job BatchJob[T], state *progress.State, items []T, sum *Summary) (bool, error) {
	name := d.job.Name()
	firstID := d.job.ID(items[0])
	lastID := d.job.ID(items[len(items)-1])

	outcomes, err := withRetry(ctx, d, firstID, func(workCtx context.Context) ([]Outcome, error) {
		return job.ProcessBatch(workCtx, items)
	})
	if err != nil {
		slog.Error("Atomic batch rolled back, will retry on next run",
			"job", name, "first_id", firstID, "last_id", lastID, "error", err)
		if !errors.Is(err, errDeferred) {
			state.AddError(firstID, err)
			sum.Failed += len(items)
			metrics.RecordsProcessed.WithLabelValues(name, "failed").Add(float64(len(items)))
		}
		sum.Deferred = true
		sum.Interrupted = ctx.Err() != nil
		if saveErr := d.store.Save(state); saveErr != nil {
			return true, fmt.Errorf("failed to save progress: %w", saveErr)
		}
		return true, nil
	}

	for _, outcome := range outcomes {
		d.count(state, sum, outcome)
	}
	state.LastProcessedID = lastID
	if err := d.store.Save(state); err != nil {
		return true, fmt.Errorf("failed to save progress after batch ending %d: %w", lastID, err)
	}
	metrics.LastProcessedID.WithLabelValues(name).Set(float64(lastID))
	return false, nil
}

func (d *Driver[T]) count(state *progress.State, sum *Summary, outcome Outcome) {
	name := d.job.Name()
	if outcome.Skipped {
		sum.Skipped++
		state.SkippedCount++
		metrics.RecordsProcessed.WithLabelValues(name, "skipped").Inc()
		return
	}
	sum.Processed++
	state.ProcessedCount++
	if outcome.Group != "" {
		state.GroupCounts[outcome.Group]++
	}
	metrics.RecordsProcessed.WithLabelValues(name, "processed").Inc()
}

// withRetry runs fn on a context that ignores cancellation, retrying
// rate-limit and transient errors up to MaxRetries times. Exhausted rate
// limits, and interrupts during a backoff, come back wrapped in errDeferred.
func withRetry[R any, T any](ctx context.Context, d *Driver[T], id int64, fn func(context.Context) (R, error)) (R, error) {
	name := d.job.Name()
	workCtx := context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		res, err := fn(workCtx)
		if err == nil {
			return res, nil
		}

		var reason string
		switch {
		case errors.Is(err, ErrRateLimited):
			reason = "rate_limited"
		case errors.Is(err, ErrTransient):
			reason = "transient"
		default:
			return res, err
		}

		if attempt >= d.cfg.MaxRetries {
			if reason == "rate_limited" {
				return res, fmt.Errorf("%w: %w", errDeferred, err)
			}
			return res, fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}

		delay := Backoff(d.cfg.BackoffBase, d.cfg.BackoffMax, attempt)
		slog.Warn("Backing off before retry",
			"job", name, "record_id", id, "reason", reason, "attempt", attempt+1, "delay", delay, "error", err)
		metrics.Backoffs.WithLabelValues(name, reason).Inc()
		if sleepErr := d.Sleep(ctx, delay); sleepErr != nil {
			return res, fmt.Errorf("%w: interrupted during backoff: %w", errDeferred, err)
		}
	}
}

func (d *Driver[T]) pause(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	return d.Sleep(ctx, Jitter(base, d.cfg.Jitter, d.rand()))
}

// Backoff returns base*2^attempt capped at ceiling.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 32 {
		return ceiling
	}
	d := base << uint(attempt)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// Jitter scales d by 1 + (2r-1)*frac for r in [0,1).
func Jitter(d time.Duration, frac, r float64) time.Duration {
	if frac <= 0 {
		return d
	}
	if frac >= 1 {
		frac = 0.99
	}
	return time.Duration(float64(d) * (1 + (r*2-1)*frac))
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		out = append(out, items[i:end])
	}
	return out
}
