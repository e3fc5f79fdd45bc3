package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

func pendingJob(t *testing.T, store *memStore, id, text string, priority Priority) *Job {
	t.Helper()
	now := time.Now().UTC()
	job := &Job{
		ID:          id,
		Input:       text,
		Priority:    priority,
		Status:      StatusPending,
		TargetLang:  "vi",
		MaxRetries:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: now,
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestSchedulerRunsEligibleJobs(t *testing.T) {
	store := newMemStore()
	pendingJob(t, store, "s1", "a\nb", PriorityNormal)
	pendingJob(t, store, "s2", "c\nd", PriorityNormal)

	exec := testExecutor(store, workerFunc(upperWorker), ExecutorConfig{ChunkWorkers: 2})
	sched := NewScheduler(store, exec, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 2})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		done, err := store.List(context.Background(), Filter{Status: []Status{StatusCompleted}})
		return err == nil && len(done) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSchedulerBoundsConcurrentJobs(t *testing.T) {
	store := newMemStore()
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		pendingJob(t, store, id, "only line", PriorityNormal)
	}

	var inFlight, peak int64
	worker := workerFunc(func(ctx context.Context, chunk pipeline.Chunk) (pipeline.ChunkResult, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return upperWorker(ctx, chunk)
	})

	exec := testExecutor(store, worker, ExecutorConfig{ChunkWorkers: 1})
	sched := NewScheduler(store, exec, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 2})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		done, err := store.List(context.Background(), Filter{Status: []Status{StatusCompleted}})
		return err == nil && len(done) == 4
	}, 3*time.Second, 10*time.Millisecond)

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestSchedulerResetsOrphansOnStart(t *testing.T) {
	store := newMemStore()
	job := pendingJob(t, store, "orphan", "a\nb", PriorityNormal)

	// Fake a crash: the job was mid-run when the previous process died.
	job.Status = StatusRunning
	require.NoError(t, store.Update(context.Background(), job))

	exec := testExecutor(store, workerFunc(upperWorker), ExecutorConfig{ChunkWorkers: 1})
	sched := NewScheduler(store, exec, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 1})

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		stored, err := store.Get(context.Background(), "orphan")
		return err == nil && stored.Status == StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopWaitsForInFlight(t *testing.T) {
	store := newMemStore()
	pendingJob(t, store, "slow", "only line", PriorityNormal)

	worker := workerFunc(func(ctx context.Context, chunk pipeline.Chunk) (pipeline.ChunkResult, error) {
		time.Sleep(50 * time.Millisecond)
		return upperWorker(ctx, chunk)
	})
	exec := testExecutor(store, worker, ExecutorConfig{ChunkWorkers: 1})
	sched := NewScheduler(store, exec, SchedulerConfig{PollInterval: 5 * time.Millisecond, MaxConcurrentJobs: 1})

	require.NoError(t, sched.Start(context.Background()))
	require.Eventually(t, func() bool {
		stored, err := store.Get(context.Background(), "slow")
		return err == nil && stored.Status == StatusRunning
	}, 3*time.Second, 5*time.Millisecond)

	sched.Stop()

	stored, err := store.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status, "Stop waits for the in-flight executor")
}
