// Package progress persists batch checkpoints to a JSON file so an
// interrupted run can resume where it stopped.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RecordError is one per-record failure kept in the progress file.
type RecordError struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	// Attempts counts consecutive failures of the same record across runs.
	Attempts int `json:"attempts,omitempty"`
}

// State is the on-disk checkpoint. Absent fields decode to their zero
// values and unknown fields are ignored, so older and newer files load.
type State struct {
	LastProcessedID  int64            `json:"lastProcessedId"`
	ProcessedCount   int64            `json:"processedCount"`
	SkippedCount     int64            `json:"skippedCount"`
	TotalCount       int64            `json:"totalCount"`
	Errors           []RecordError    `json:"errors"`
	CompletedBatches int64            `json:"completedBatches"`
	GroupCounts      map[string]int64 `json:"groupCounts"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func NewState() *State {
	return &State{Errors: []RecordError{}, GroupCounts: map[string]int64{}}
}

// Reset clears counters and positions the checkpoint just before startID.
func (s *State) Reset(startID int64) {
	*s = *NewState()
	if startID > 0 {
		s.LastProcessedID = startID - 1
	}
}

// AddError records a failure of record id. A repeat failure of the record
// that failed last updates that entry instead of growing the list.
func (s *State) AddError(id int64, err error) {
	now := time.Now().UTC()
	if n := len(s.Errors); n > 0 && s.Errors[n-1].ID == id {
		last := &s.Errors[n-1]
		last.Timestamp = now
		last.Message = err.Error()
		last.Attempts = max(last.Attempts, 1) + 1
		return
	}
	s.Errors = append(s.Errors, RecordError{ID: id, Timestamp: now, Message: err.Error(), Attempts: 1})
}

type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load returns the saved state, or a fresh one when the file is missing or
// cannot be parsed. A corrupt file is logged and otherwise ignored.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Could not read progress file, starting fresh", "path", s.Path, "error", err)
		}
		return NewState()
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		slog.Warn("Progress file is corrupt, starting fresh", "path", s.Path, "error", err)
		return NewState()
	}
	if state.Errors == nil {
		state.Errors = []RecordError{}
	}
	if state.GroupCounts == nil {
		state.GroupCounts = map[string]int64{}
	}
	return state
}

// Save writes the full state to a temp file in the same directory and
// renames it over the target.
func (s *Store) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp progress file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp progress file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp progress file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp progress file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}
