package driver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"laundromat-importer/packages/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecord struct {
	ID    int64
	State string
}

// fakeJob serves records 1..n and lets tests script per-record failures.
type fakeJob struct {
	records   []fakeRecord
	processed []int64
	failures  map[int64][]error
	fetches   int
	fetchErr  error
	store     *progress.Store
	// checkpointAtProcess records the saved checkpoint when each attempt starts.
	checkpointAtProcess map[int64][]int64
	onProcess           func(id int64)
	batchErr            error
}

func newFakeJob(n int, store *progress.Store) *fakeJob {
	job := &fakeJob{
		failures:            map[int64][]error{},
		store:               store,
		checkpointAtProcess: map[int64][]int64{},
	}
	for i := 1; i <= n; i++ {
		job.records = append(job.records, fakeRecord{ID: int64(i), State: "TX"})
	}
	return job
}

func (j *fakeJob) Name() string { return "fake" }

func (j *fakeJob) Fetch(_ context.Context, afterID int64, limit int) ([]fakeRecord, error) {
	j.fetches++
	if j.fetchErr != nil {
		return nil, j.fetchErr
	}
	var out []fakeRecord
	for _, r := range j.records {
		if r.ID > afterID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *fakeJob) ID(r fakeRecord) int64 { return r.ID }

func (j *fakeJob) Process(_ context.Context, r fakeRecord) (Outcome, error) {
	j.checkpointAtProcess[r.ID] = append(j.checkpointAtProcess[r.ID], j.store.Load().LastProcessedID)
	if j.onProcess != nil {
		j.onProcess(r.ID)
	}
	if errs := j.failures[r.ID]; len(errs) > 0 {
		err := errs[0]
		j.failures[r.ID] = errs[1:]
		return Outcome{}, err
	}
	j.processed = append(j.processed, r.ID)
	return Outcome{Group: r.State}, nil
}

type fakeBatchJob struct {
	*fakeJob
	batches [][]int64
}

func (j *fakeBatchJob) ProcessBatch(_ context.Context, items []fakeRecord) ([]Outcome, error) {
	if j.batchErr != nil {
		return nil, j.batchErr
	}
	var ids []int64
	outcomes := make([]Outcome, len(items))
	for i, r := range items {
		ids = append(ids, r.ID)
		outcomes[i] = Outcome{Group: r.State}
	}
	j.batches = append(j.batches, ids)
	return outcomes, nil
}

type sleepRecorder struct {
	calls []time.Duration
	err   error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return s.err
}

func newTestDriver[T any](job Job[T], store *progress.Store, cfg Config) (*Driver[T], *sleepRecorder) {
	d := New(job, store, cfg)
	rec := &sleepRecorder{}
	d.Sleep = rec.sleep
	return d, rec
}

func testStore(t *testing.T) *progress.Store {
	t.Helper()
	return progress.NewStore(filepath.Join(t.TempDir(), "progress.json"))
}

func TestRun_FreshRunThenResume(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(12, store)
	cfg := Config{BatchSize: 5, PerRunLimit: 10, ItemDelay: 10 * time.Millisecond, BatchDelay: time.Second}

	d, sleeps := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, job.processed)
	assert.Equal(t, 10, sum.Processed)
	assert.Equal(t, int64(10), sum.LastProcessedID)
	assert.Equal(t, 1, sum.Cycles)

	// 4 item pauses per chunk of 5, one pause between the two chunks.
	var itemPauses, batchPauses int
	for _, d := range sleeps.calls {
		switch d {
		case 10 * time.Millisecond:
			itemPauses++
		case time.Second:
			batchPauses++
		}
	}
	assert.Equal(t, 8, itemPauses)
	assert.Equal(t, 1, batchPauses)

	state := store.Load()
	assert.Equal(t, int64(10), state.LastProcessedID)
	assert.Equal(t, int64(2), state.CompletedBatches)
	assert.Equal(t, int64(10), state.GroupCounts["TX"])

	job.processed = nil
	d2, _ := newTestDriver[fakeRecord](job, store, cfg)
	sum, err = d2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, job.processed)
	assert.Equal(t, int64(12), sum.LastProcessedID)
	assert.Equal(t, int64(12), store.Load().ProcessedCount)
}

func TestRun_CheckpointTracksEachCompletedRecord(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(6, store)

	d, _ := newTestDriver[fakeRecord](job, store, Config{BatchSize: 3, PerRunLimit: 6})
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	for id := int64(1); id <= 6; id++ {
		require.Len(t, job.checkpointAtProcess[id], 1)
		assert.Equal(t, id-1, job.checkpointAtProcess[id][0], "record %d", id)
	}
}

func TestRun_RateLimitRecovery(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(10, store)
	job.failures[7] = []error{fmt.Errorf("places: %w", ErrRateLimited)}
	cfg := Config{BatchSize: 5, PerRunLimit: 10, MaxRetries: 3, BackoffBase: 30 * time.Second, BackoffMax: time.Hour}

	d, sleeps := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, sleeps.calls, 30*time.Second)
	assert.Equal(t, []int64{6, 6}, job.checkpointAtProcess[7], "checkpoint must stay at 6 until the retry succeeds")
	assert.Contains(t, job.processed, int64(7))
	assert.Equal(t, 10, sum.Processed)
	assert.Equal(t, 0, sum.Failed)
	assert.Empty(t, store.Load().Errors)
}

func TestRun_ExhaustedRateLimitDefersWithoutAdvancing(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(10, store)
	job.failures[4] = []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}
	cfg := Config{BatchSize: 5, PerRunLimit: 10, MaxRetries: 2, BackoffBase: time.Second, BackoffMax: 3 * time.Second}

	d, sleeps := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.Deferred)
	assert.Equal(t, int64(3), sum.LastProcessedID)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.calls)
	assert.Equal(t, int64(3), store.Load().LastProcessedID)
}

func TestRun_PerRecordFailureIsIsolated(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(5, store)
	job.failures[2] = []error{errors.New("malformed address")}

	d, _ := newTestDriver[fakeRecord](job, store, Config{BatchSize: 5, PerRunLimit: 5})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 4, 5}, job.processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 4, sum.Processed)

	state := store.Load()
	assert.Equal(t, int64(5), state.LastProcessedID)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, int64(2), state.Errors[0].ID)
	assert.Contains(t, state.Errors[0].Message, "malformed address")
}

func TestRun_TransientRetriedThenRecorded(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(3, store)
	job.failures[2] = []error{ErrTransient, ErrTransient}

	d, _ := newTestDriver[fakeRecord](job, store, Config{BatchSize: 5, PerRunLimit: 5, MaxRetries: 1})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []int64{1, 3}, job.processed)
	assert.Len(t, job.checkpointAtProcess[2], 2)
}

func TestRun_InterruptStopsBetweenRecordsAndFlushes(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(10, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job.onProcess = func(id int64) {
		if id == 3 {
			cancel()
		}
	}

	d := New[fakeRecord](job, store, Config{BatchSize: 5, PerRunLimit: 10})
	d.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	sum, err := d.Run(ctx)
	require.NoError(t, err)

	assert.True(t, sum.Interrupted)
	assert.Equal(t, []int64{1, 2, 3}, job.processed, "record 3 completes even though the interrupt arrived mid-record")
	assert.Equal(t, int64(3), store.Load().LastProcessedID)
}

func TestRun_ContinuousStopsAtMaxCycles(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(20, store)
	cfg := Config{BatchSize: 2, PerRunLimit: 2, Continuous: true, MaxCycles: 3, LoopInterval: time.Minute}

	d, sleeps := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Cycles)
	assert.Equal(t, int64(6), sum.LastProcessedID)
	assert.Equal(t, 2, countOf(sleeps.calls, time.Minute))
}

func TestRun_ContinuousStopsWhenExhausted(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(5, store)
	cfg := Config{BatchSize: 2, PerRunLimit: 2, Continuous: true, LoopInterval: time.Minute}

	d, _ := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Cycles)
	assert.Equal(t, 5, sum.Processed)
	assert.Equal(t, 4, job.fetches)
}

func TestRun_StartIDOverridesCheckpoint(t *testing.T) {
	store := testStore(t)
	state := progress.NewState()
	state.LastProcessedID = 9
	require.NoError(t, store.Save(state))

	job := newFakeJob(12, store)
	d, _ := newTestDriver[fakeRecord](job, store, Config{BatchSize: 5, PerRunLimit: 3, StartID: 4})
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 5, 6}, job.processed)
}

func TestRun_FetchErrorIsFatal(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(3, store)
	job.fetchErr = errors.New("connection refused")

	d, _ := newTestDriver[fakeRecord](job, store, Config{})
	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRun_AtomicBatches(t *testing.T) {
	store := testStore(t)
	job := &fakeBatchJob{fakeJob: newFakeJob(7, store)}

	d, _ := newTestDriver[fakeRecord](job, store, Config{BatchSize: 3, PerRunLimit: 7, AtomicBatches: true})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]int64{{1, 2, 3}, {4, 5, 6}, {7}}, job.batches)
	assert.Equal(t, 7, sum.Processed)
	assert.Equal(t, int64(7), store.Load().LastProcessedID)
}

func TestRun_AtomicBatchFailureRollsBackWholeChunk(t *testing.T) {
	store := testStore(t)
	job := &fakeBatchJob{fakeJob: newFakeJob(6, store)}
	job.batchErr = errors.New("constraint violation")

	d, _ := newTestDriver[fakeRecord](job, store, Config{BatchSize: 3, PerRunLimit: 6, AtomicBatches: true})
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.Deferred)
	assert.Equal(t, 3, sum.Failed)
	state := store.Load()
	assert.Equal(t, int64(0), state.LastProcessedID)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, int64(1), state.Errors[0].ID)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(time.Second, time.Minute, 0))
	assert.Equal(t, 8*time.Second, Backoff(time.Second, time.Minute, 3))
	assert.Equal(t, time.Minute, Backoff(time.Second, time.Minute, 10))
	assert.Equal(t, time.Minute, Backoff(time.Second, time.Minute, 200))
}

func TestJitter(t *testing.T) {
	assert.Equal(t, time.Second, Jitter(time.Second, 0, 0.9))
	assert.Equal(t, 800*time.Millisecond, Jitter(time.Second, 0.2, 0))
	assert.Equal(t, time.Second, Jitter(time.Second, 0.2, 0.5))
}

func countOf(calls []time.Duration, want time.Duration) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func TestRun_ContinuousResumesAfterDeferral(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(10, store)
	job.failures[4] = []error{ErrRateLimited, ErrRateLimited, ErrRateLimited}
	cfg := Config{
		BatchSize: 5, PerRunLimit: 10, MaxRetries: 2,
		BackoffBase: time.Second, BackoffMax: 3 * time.Second,
		Continuous: true, MaxCycles: 10, LoopInterval: time.Minute,
	}

	d, sleeps := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, job.processed)
	assert.Equal(t, 2, sum.Cycles)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, int64(10), sum.LastProcessedID)
	assert.Equal(t, []int64{3, 3, 3, 3}, job.checkpointAtProcess[4])
	// One cooldown after the deferred cycle, one regular interval after the second.
	assert.Equal(t, 2, countOf(sleeps.calls, time.Minute))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.calls[:2])
	assert.Empty(t, store.Load().Errors)
}

func TestRun_ContinuousDeferralCooldownCoversBackoffMax(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(3, store)
	job.failures[2] = []error{ErrRateLimited}
	cfg := Config{
		BatchSize: 5, PerRunLimit: 5, MaxRetries: 0,
		BackoffBase: time.Second, BackoffMax: 10 * time.Minute,
		Continuous: true, MaxCycles: 5, LoopInterval: time.Minute,
	}

	d, sleeps := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, job.processed)
	assert.Contains(t, sleeps.calls, 10*time.Minute)
	assert.Equal(t, int64(3), sum.LastProcessedID)
}

func TestRun_ContinuousDeferralHonorsMaxCycles(t *testing.T) {
	store := testStore(t)
	job := newFakeJob(3, store)
	job.failures[1] = []error{ErrRateLimited, ErrRateLimited, ErrRateLimited, ErrRateLimited, ErrRateLimited}
	cfg := Config{PerRunLimit: 5, MaxRetries: 0, Continuous: true, MaxCycles: 3, LoopInterval: time.Minute}

	d, _ := newTestDriver[fakeRecord](job, store, cfg)
	sum, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Cycles)
	assert.True(t, sum.Deferred)
	assert.Empty(t, job.processed)
	assert.Equal(t, int64(0), store.Load().LastProcessedID)
}

func TestRun_RepeatedAtomicFailureKeepsOneErrorEntry(t *testing.T) {
	store := testStore(t)
	job := &fakeBatchJob{fakeJob: newFakeJob(6, store)}
	job.batchErr = errors.New("row 1 has no name")
	cfg := Config{BatchSize: 3, PerRunLimit: 6, AtomicBatches: true}

	for n := 0; n < 3; n++ {
		d, _ := newTestDriver[fakeRecord](job, store, cfg)
		_, err := d.Run(context.Background())
		require.NoError(t, err)
	}

	state := store.Load()
	require.Len(t, state.Errors, 1)
	assert.Equal(t, int64(1), state.Errors[0].ID)
	assert.Equal(t, 3, state.Errors[0].Attempts)
	assert.Equal(t, int64(0), state.LastProcessedID)
}
