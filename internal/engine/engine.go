package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/config"
	"github.com/nclamvn/dich-tai-lieu-sub001/internal/jobs"
	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
	"github.com/nclamvn/dich-tai-lieu-sub001/pkg/icron"
	"github.com/nclamvn/dich-tai-lieu-sub001/pkg/log"
)

// Store is everything the engine needs from durable storage. The SQLite
// store satisfies all three facets; tests may pass separate fakes.
type Store interface {
	jobs.Store
	jobs.CheckpointStore
	jobs.ChunkCache
}

// Stats extends queue stats with retention-sweep scheduling info.
type Stats struct {
	jobs.Stats
	NextCleanup time.Time `json:"next_cleanup"`
}

// Engine is the caller-facing surface of the job-execution engine: submit,
// inspect, cancel, pause and observe jobs. One Engine owns one scheduler
// loop and one retention sweep.
type Engine struct {
	cfg   *config.Config
	store Store
	sched *jobs.Scheduler
	exec  *jobs.Executor
	cron  *cron.Cron

	mu          sync.RWMutex
	progressFns []jobs.ProgressFunc
}

func New(
	cfg *config.Config,
	store Store,
	chunker pipeline.Chunker,
	worker pipeline.Worker,
	merger pipeline.Merger,
	cronRunner *cron.Cron,
) *Engine {
	exec := jobs.NewExecutor(store, store, store, chunker, worker, merger, jobs.ExecutorConfig{
		ChunkWorkers:          cfg.Batch.ChunkWorkers,
		ChunkTimeout:          cfg.Batch.ChunkTimeout,
		ChunkAttempts:         cfg.Batch.ChunkAttempts,
		ChunkBackoff:          cfg.Batch.ChunkBackoff,
		CheckpointInterval:    cfg.Batch.CheckpointInterval,
		JobTimeout:            cfg.Batch.JobTimeout,
		ProgressFlushInterval: cfg.Batch.ProgressFlushInterval,
		RetryBackoff:          cfg.Queue.RetryBackoff,
	})

	e := &Engine{
		cfg:   cfg,
		store: store,
		exec:  exec,
		cron:  cronRunner,
	}
	exec.SetProgressFunc(e.fanoutProgress)
	e.sched = jobs.NewScheduler(store, exec, jobs.SchedulerConfig{
		PollInterval:      cfg.Queue.PollInterval,
		MaxConcurrentJobs: cfg.Queue.MaxConcurrentJobs,
	})
	return e
}

// Start begins the scheduler loop and the retention sweep.
func (e *Engine) Start(ctx context.Context) error {
	if e.cron != nil {
		if _, err := e.cron.AddFunc(e.cfg.Retention.CronExpr, func() {
			e.runCleanup(context.Background())
		}); err != nil {
			return fmt.Errorf("schedule retention sweep: %w", err)
		}
		e.cron.Start()
	}
	return e.sched.Start(ctx)
}

// Stop halts polling and the sweep, waiting for in-flight executors.
func (e *Engine) Stop() {
	if e.cron != nil {
		stopCtx := e.cron.Stop()
		<-stopCtx.Done()
	}
	e.sched.Stop()
}

// Submit validates the submission and enqueues a PENDING job.
func (e *Engine) Submit(ctx context.Context, spec jobs.Spec) (*jobs.Job, error) {
	if strings.TrimSpace(spec.Text) == "" {
		return nil, fmt.Errorf("document text is empty")
	}
	targetTag := e.cfg.Translate.TargetLanguage
	if spec.TargetLang != "" {
		parsed, err := language.Parse(spec.TargetLang)
		if err != nil {
			return nil, fmt.Errorf("invalid target language %q: %w", spec.TargetLang, err)
		}
		targetTag = parsed
	}
	if spec.SourceLang != "" {
		if _, err := language.Parse(spec.SourceLang); err != nil {
			return nil, fmt.Errorf("invalid source language %q: %w", spec.SourceLang, err)
		}
	}

	priority := spec.Priority
	if priority == 0 {
		priority = jobs.PriorityNormal
	}
	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.Queue.MaxRetries
	}
	mode := spec.Mode
	if mode == "" {
		mode = e.cfg.Translate.Mode
	}

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Input:       spec.Text,
		Priority:    priority,
		Status:      jobs.StatusPending,
		SourceLang:  spec.SourceLang,
		TargetLang:  targetTag.String(),
		Mode:        mode,
		MaxRetries:  maxRetries,
		Metadata:    spec.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: now,
	}
	if err := e.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log.Info("Job %s submitted (priority %d, target %s)", job.ID, job.Priority, job.TargetLang)
	return job.Clone(), nil
}

// GetStatus resolves a job by exact id or unique prefix.
func (e *Engine) GetStatus(ctx context.Context, id string) (*jobs.Job, error) {
	return e.store.Get(ctx, id)
}

// List passes the filter straight through to the store.
func (e *Engine) List(ctx context.Context, f jobs.Filter) ([]*jobs.Job, error) {
	return e.store.List(ctx, f)
}

// RequestCancel flags a job for cancellation. A job that has not started yet
// is cancelled immediately; a running one stops before its next chunk
// dispatch. Terminal jobs cannot be cancelled.
func (e *Engine) RequestCancel(ctx context.Context, id string) error {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", job.ID, job.Status)
	}

	if err := e.store.RequestCancel(ctx, job.ID); err != nil {
		return err
	}
	switch job.Status {
	case jobs.StatusPending, jobs.StatusRetrying, jobs.StatusPaused:
		// Never picked up by an executor, so no cooperative handoff needed.
		job.CancelRequested = true
		if err := job.Transition(jobs.StatusCancelled); err != nil {
			return err
		}
		if err := e.store.Update(ctx, job); err != nil {
			return err
		}
	}
	log.Info("Job %s cancellation requested", job.ID)
	return nil
}

// Pause parks a not-yet-running job until Resume.
func (e *Engine) Pause(ctx context.Context, id string) error {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := job.Transition(jobs.StatusPaused); err != nil {
		return err
	}
	return e.store.Update(ctx, job)
}

// Resume returns a paused job to the eligible set.
func (e *Engine) Resume(ctx context.Context, id string) error {
	job, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := job.Transition(jobs.StatusPending); err != nil {
		return err
	}
	job.ScheduledAt = time.Now().UTC()
	return e.store.Update(ctx, job)
}

// Stats reports queue depth, backlog and the next retention sweep.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	queueStats, err := e.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	ret := Stats{Stats: queueStats}
	if info, err := icron.GetTriggerInfo(e.cfg.Retention.CronExpr, time.Now()); err == nil {
		ret.NextCleanup = info.Next
	}
	return ret, nil
}

// OnProgress registers a callback invoked after every completed chunk.
func (e *Engine) OnProgress(fn jobs.ProgressFunc) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.progressFns = append(e.progressFns, fn)
	e.mu.Unlock()
}

func (e *Engine) fanoutProgress(jobID string, completed, total int, lastQuality float64) {
	e.mu.RLock()
	fns := e.progressFns
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(jobID, completed, total, lastQuality)
	}
}

// runCleanup sweeps terminal jobs past retention and chunk-cache entries
// past their advisory TTL.
func (e *Engine) runCleanup(ctx context.Context) {
	now := time.Now().UTC()
	removedJobs, err := e.store.DeleteTerminalBefore(ctx, now.Add(-e.cfg.Retention.JobRetention))
	if err != nil {
		log.Error("Retention sweep (jobs) failed: %v", err)
	}
	removedChunks, err := e.store.DeleteExpiredChunks(ctx, now)
	if err != nil {
		log.Error("Retention sweep (cache) failed: %v", err)
	}
	if removedJobs > 0 || removedChunks > 0 {
		log.Info("Retention sweep removed %d job(s), %d cache entrie(s)", removedJobs, removedChunks)
	}
}
