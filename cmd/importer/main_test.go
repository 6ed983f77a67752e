package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"laundromat-importer/packages/config"
	"laundromat-importer/packages/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv("LOG_FILE", filepath.Join(dir, "logs", "importer.log"))
	t.Setenv("PROGRESS_DIR", filepath.Join(dir, "progress"))
	t.Setenv("ITEM_DELAY", "0s")
	t.Setenv("BATCH_DELAY", "0s")
	t.Setenv("METRICS_ADDR", "")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return dir
}

func TestRun_DryRunSavesCheckpoint(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "laundromats.csv")
	require.NoError(t, os.WriteFile(file, []byte("name,city,state\nClean Spin,Austin,TX\nSuds,Waco,TX\n"), 0o644))

	require.NoError(t, run(context.Background(), []string{"--file", file, "--dry-run"}))

	state := progress.NewStore(filepath.Join(dir, "progress", "import.dry-run.json")).Load()
	assert.Equal(t, int64(2), state.LastProcessedID)
	assert.Equal(t, int64(2), state.ProcessedCount)
	assert.Equal(t, int64(2), state.GroupCounts["TX"])
}

// Failures come back as errors so deferred cleanup in run still happens
// before main exits.
func TestRun_FailuresReturnErrors(t *testing.T) {
	dir := setupEnv(t)

	err := run(context.Background(), []string{"--dry-run"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input file")

	err = run(context.Background(), []string{"--dry-run", "--file", filepath.Join(dir, "missing.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read source file")

	err = run(context.Background(), []string{"--file", filepath.Join(dir, "missing.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvDatabaseURL)

	err = run(context.Background(), []string{"--no-such-flag"})
	require.Error(t, err)
}
