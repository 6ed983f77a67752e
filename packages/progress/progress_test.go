package progress

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsFreshState(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "import.json"))

	state := store.Load()
	assert.Equal(t, int64(0), state.LastProcessedID)
	assert.Empty(t, state.Errors)
	assert.NotNil(t, state.GroupCounts)
}

func TestLoad_MalformedFileReturnsFreshState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lastProcessedId": 12,`), 0o644))

	state := NewStore(path).Load()
	assert.Equal(t, int64(0), state.LastProcessedID)
	assert.Equal(t, int64(0), state.ProcessedCount)
}

func TestLoad_AbsentFieldsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lastProcessedId": 42, "futureField": true}`), 0o644))

	state := NewStore(path).Load()
	assert.Equal(t, int64(42), state.LastProcessedID)
	assert.Equal(t, int64(0), state.CompletedBatches)
	assert.NotNil(t, state.Errors)
	assert.NotNil(t, state.GroupCounts)
}

func TestSave_RoundTripLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "nested", "import.json"))

	state := NewState()
	state.LastProcessedID = 10
	state.ProcessedCount = 9
	state.CompletedBatches = 2
	state.GroupCounts["TX"] = 4
	state.AddError(3, errors.New("bad row"))
	require.NoError(t, store.Save(state))

	loaded := store.Load()
	assert.Equal(t, int64(10), loaded.LastProcessedID)
	assert.Equal(t, int64(9), loaded.ProcessedCount)
	assert.Equal(t, int64(2), loaded.CompletedBatches)
	assert.Equal(t, int64(4), loaded.GroupCounts["TX"])
	require.Len(t, loaded.Errors, 1)
	assert.Equal(t, int64(3), loaded.Errors[0].ID)
	assert.Equal(t, "bad row", loaded.Errors[0].Message)
	assert.False(t, loaded.Errors[0].Timestamp.IsZero())

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "import.json", entries[0].Name())
}

func TestReset_PositionsBeforeStart(t *testing.T) {
	state := NewState()
	state.LastProcessedID = 50
	state.ProcessedCount = 50

	state.Reset(11)
	assert.Equal(t, int64(10), state.LastProcessedID)
	assert.Equal(t, int64(0), state.ProcessedCount)

	state.Reset(0)
	assert.Equal(t, int64(0), state.LastProcessedID)
}

func TestAddError_RepeatedFailureUpdatesLastEntry(t *testing.T) {
	state := NewState()
	state.AddError(4, errors.New("no name"))
	state.AddError(4, errors.New("still no name"))
	state.AddError(4, errors.New("still no name"))

	require.Len(t, state.Errors, 1)
	assert.Equal(t, 3, state.Errors[0].Attempts)
	assert.Equal(t, "still no name", state.Errors[0].Message)

	state.AddError(9, errors.New("bad zip"))
	state.AddError(4, errors.New("no name"))
	require.Len(t, state.Errors, 3)
	assert.Equal(t, 1, state.Errors[2].Attempts)
}
