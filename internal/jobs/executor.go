package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
	"github.com/nclamvn/dich-tai-lieu-sub001/pkg/log"
)

// ProgressFunc is invoked after each chunk completes.
type ProgressFunc func(jobID string, completed, total int, lastQuality float64)

type ExecutorConfig struct {
	ChunkWorkers          int
	ChunkTimeout          time.Duration
	ChunkAttempts         uint
	ChunkBackoff          time.Duration
	CheckpointInterval    int
	JobTimeout            time.Duration
	ProgressFlushInterval time.Duration
	// RetryBackoff is the base delay before a RETRYING job becomes eligible
	// again; it doubles per retry.
	RetryBackoff time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.ChunkWorkers <= 0 {
		c.ChunkWorkers = 1
	}
	if c.ChunkAttempts == 0 {
		c.ChunkAttempts = 3
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = time.Minute
	}
	if c.ChunkBackoff <= 0 {
		c.ChunkBackoff = time.Second
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 5
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.ProgressFlushInterval <= 0 {
		c.ProgressFlushInterval = 2 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	return c
}

// Executor drives one job at a time from its current state to a terminal
// state: chunk, resume from checkpoint, dispatch, merge, finalize. Safe for
// concurrent use across jobs.
type Executor struct {
	store       Store
	checkpoints CheckpointStore
	cache       ChunkCache

	chunker pipeline.Chunker
	worker  pipeline.Worker
	merger  pipeline.Merger

	cfg        ExecutorConfig
	controller *Controller
	onProgress ProgressFunc

	// flight collapses concurrent cache misses under the same key into one
	// worker call, across jobs as well as within one.
	flight singleflight.Group
}

func NewExecutor(
	store Store,
	checkpoints CheckpointStore,
	cache ChunkCache,
	chunker pipeline.Chunker,
	worker pipeline.Worker,
	merger pipeline.Merger,
	cfg ExecutorConfig,
) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		store:       store,
		checkpoints: checkpoints,
		cache:       cache,
		chunker:     chunker,
		worker:      worker,
		merger:      merger,
		cfg:         cfg,
		controller: NewController(ControllerConfig{
			Workers:     cfg.ChunkWorkers,
			ItemTimeout: cfg.ChunkTimeout,
			Attempts:    cfg.ChunkAttempts,
			Backoff:     cfg.ChunkBackoff,
		}),
	}
}

// SetProgressFunc registers the progress callback. Must be called before the
// executor is handed to a scheduler.
func (e *Executor) SetProgressFunc(fn ProgressFunc) {
	e.onProgress = fn
}

// runState is the mutable bookkeeping of one execution. All fields are
// touched only from the controller's serialized onDone callback or after
// Run returned.
type runState struct {
	results         map[int]pipeline.ChunkResult
	failedChunks    int
	sinceCheckpoint int
	lastFlush       time.Time
	lastQuality     float64
}

// Execute drives the job to a terminal state, or back to PENDING/RETRYING
// when the run was interrupted or structurally failed with budget left.
func (e *Executor) Execute(ctx context.Context, job *Job) error {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	defer cancel()

	if err := job.Transition(StatusRunning); err != nil {
		return err
	}
	job.Stage = "chunking"
	if err := e.store.Update(runCtx, job); err != nil {
		return fmt.Errorf("mark job %s running: %w", job.ID, err)
	}
	log.Info("Job %s running (retry %d/%d)", job.ID, job.RetryCount, job.MaxRetries)

	chunks, err := e.chunker.Chunk(runCtx, pipeline.Document{Name: job.Name, Text: job.Input})
	if err != nil {
		return e.failOrRetry(ctx, job, fmt.Errorf("chunk document: %w", err))
	}
	total := len(chunks)

	cp, err := e.checkpoints.LoadCheckpoint(runCtx, job.ID)
	if err != nil {
		return e.failOrRetry(ctx, job, fmt.Errorf("load checkpoint: %w", err))
	}

	st := &runState{results: make(map[int]pipeline.ChunkResult, total)}
	if cp != nil {
		for id, res := range cp.Results {
			st.results[id] = res
		}
		log.Info("Job %s resuming from checkpoint: %d/%d chunks done", job.ID, len(cp.CompletedIDs), total)
	} else {
		if err := e.checkpoints.SaveCheckpoint(runCtx, pipeline.NewCheckpoint(job.ID, total)); err != nil {
			return e.failOrRetry(ctx, job, fmt.Errorf("write initial checkpoint: %w", err))
		}
	}

	remaining := make([]pipeline.Chunk, 0, total)
	for _, chunk := range chunks {
		if _, done := st.results[chunk.Index]; !done {
			remaining = append(remaining, chunk)
		}
	}

	job.Stage = "translating"
	job.Progress = progressOf(len(st.results), total)
	if err := e.store.Update(runCtx, job); err != nil {
		log.Warn("Failed to persist stage for job %s: %v", job.ID, err)
	}

	process := func(ctx context.Context, chunk pipeline.Chunk) (pipeline.ChunkResult, error) {
		return e.processChunk(ctx, job, chunk)
	}
	cancelRequested := func(ctx context.Context) bool {
		fresh, err := e.store.Get(ctx, job.ID)
		if err != nil {
			return false
		}
		return fresh.CancelRequested
	}
	onDone := func(o Outcome) {
		e.recordOutcome(runCtx, job, st, o, total)
	}

	_, stats, runErr := e.controller.Run(runCtx, remaining, process, cancelRequested, onDone)

	if runErr != nil {
		return e.handleInterrupt(ctx, job, st, total, runErr)
	}

	if stats.Cancelled > 0 {
		// Record the partial progress of chunks that still finished, then
		// honor the cancellation.
		e.saveCheckpoint(ctx, job, st, total)
		job.Progress = progressOf(len(st.results), total)
		if err := job.Transition(StatusCancelled); err != nil {
			return err
		}
		if err := e.store.Update(context.WithoutCancel(ctx), job); err != nil {
			return fmt.Errorf("persist cancelled job %s: %w", job.ID, err)
		}
		log.Info("Job %s cancelled with %d/%d chunks done", job.ID, len(st.results), total)
		return nil
	}

	return e.finalize(ctx, runCtx, job, st, total)
}

// processChunk consults the cache before invoking the worker. Worker calls
// behind the same key are collapsed through singleflight; the cache write
// happens inside the shared call.
func (e *Executor) processChunk(ctx context.Context, job *Job, chunk pipeline.Chunk) (pipeline.ChunkResult, error) {
	key := pipeline.CacheKey(chunk.Text, pipeline.KeyConfig{
		SourceLang: job.SourceLang,
		TargetLang: job.TargetLang,
		Mode:       job.Mode,
	})

	cached, err := e.cache.GetChunk(ctx, key)
	if err != nil {
		log.Warn("Chunk cache lookup failed for job %s chunk %d: %v", job.ID, chunk.Index, err)
	}
	if cached != nil {
		result := *cached
		result.Index = chunk.Index
		return result, nil
	}

	v, err, _ := e.flight.Do(key, func() (any, error) {
		result, err := e.worker.Process(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if result.ProducedAt.IsZero() {
			result.ProducedAt = time.Now().UTC()
		}
		if err := e.cache.PutChunk(ctx, key, result); err != nil {
			log.Warn("Chunk cache write failed for job %s chunk %d: %v", job.ID, chunk.Index, err)
		}
		return result, nil
	})
	if err != nil {
		return pipeline.ChunkResult{}, err
	}

	result := v.(pipeline.ChunkResult)
	result.Index = chunk.Index
	return result, nil
}

// recordOutcome runs inside the controller's serialized callback.
func (e *Executor) recordOutcome(ctx context.Context, job *Job, st *runState, o Outcome, total int) {
	if o.Kind == OutcomeCancelled {
		return
	}
	if o.Kind == OutcomeFailed {
		st.failedChunks++
		log.Warn("Job %s chunk %d exhausted %d attempts: %v", job.ID, o.Chunk.Index, o.Attempts, o.Err)
	}
	st.results[o.Chunk.Index] = o.Result
	st.lastQuality = o.Result.Quality
	st.sinceCheckpoint++

	if e.onProgress != nil {
		e.onProgress(job.ID, len(st.results), total, st.lastQuality)
	}

	job.Progress = progressOf(len(st.results), total)
	if time.Since(st.lastFlush) >= e.cfg.ProgressFlushInterval {
		st.lastFlush = time.Now()
		if err := e.store.Update(ctx, job); err != nil {
			log.Warn("Failed to persist progress for job %s: %v", job.ID, err)
		}
	}

	if st.sinceCheckpoint >= e.cfg.CheckpointInterval {
		st.sinceCheckpoint = 0
		e.saveCheckpoint(ctx, job, st, total)
	}
}

func (e *Executor) saveCheckpoint(ctx context.Context, job *Job, st *runState, total int) {
	cp := pipeline.Snapshot(job.ID, total, st.results, job.Metadata)
	if err := e.checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
		log.Warn("Failed to save checkpoint for job %s: %v", job.ID, err)
	}
}

func (e *Executor) finalize(ctx, runCtx context.Context, job *Job, st *runState, total int) error {
	job.Stage = "merging"
	if err := e.store.Update(runCtx, job); err != nil {
		log.Warn("Failed to persist stage for job %s: %v", job.ID, err)
	}

	// Merge strictly in chunk-index order, regardless of completion order.
	ordered := make([]pipeline.ChunkResult, 0, total)
	for i := 0; i < total; i++ {
		result, ok := st.results[i]
		if !ok {
			return e.failOrRetry(ctx, job, fmt.Errorf("merge: missing result for chunk %d", i))
		}
		ordered = append(ordered, result)
	}

	artifact, err := e.merger.Merge(runCtx, ordered)
	if err != nil {
		return e.failOrRetry(ctx, job, fmt.Errorf("merge results: %w", err))
	}

	job.Result = artifact.Text
	job.Stage = "done"
	job.Progress = 1
	job.Error = ""
	if st.failedChunks > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]string)
		}
		job.Metadata["failed_chunks"] = strconv.Itoa(st.failedChunks)
	}
	if err := job.Transition(StatusCompleted); err != nil {
		return err
	}
	if err := e.store.Update(context.WithoutCancel(ctx), job); err != nil {
		return e.failOrRetry(ctx, job, fmt.Errorf("finalize job: %w", err))
	}

	// Only now is the artifact durably recorded; the checkpoint may go.
	if err := e.checkpoints.DeleteCheckpoint(context.WithoutCancel(ctx), job.ID); err != nil {
		log.Warn("Failed to delete checkpoint for job %s: %v", job.ID, err)
	}
	log.Info("Job %s completed: %d chunks, %d placeholders", job.ID, total, st.failedChunks)
	return nil
}

// handleInterrupt deals with the run context ending before dispatch did.
// A wall-clock expiry is a hard, non-retryable failure; a shutdown
// cancellation parks the job back in PENDING for a later resume without
// charging its retry budget.
func (e *Executor) handleInterrupt(ctx context.Context, job *Job, st *runState, total int, runErr error) error {
	e.saveCheckpoint(ctx, job, st, total)

	if errors.Is(runErr, context.DeadlineExceeded) {
		e.fail(ctx, job, fmt.Errorf("job exceeded wall-clock timeout %s", e.cfg.JobTimeout))
		return runErr
	}

	if err := job.Transition(StatusPending); err != nil {
		return err
	}
	if err := e.store.Update(context.WithoutCancel(ctx), job); err != nil {
		log.Error("Failed to park interrupted job %s: %v", job.ID, err)
	}
	log.Info("Job %s interrupted, parked for resume with %d/%d chunks done", job.ID, len(st.results), total)
	return runErr
}

// failOrRetry handles a structural failure: requeue through RETRYING while
// the budget lasts, otherwise fail terminally.
func (e *Executor) failOrRetry(ctx context.Context, job *Job, cause error) error {
	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Error = cause.Error()
		job.ScheduledAt = time.Now().UTC().Add(e.cfg.RetryBackoff << (job.RetryCount - 1))
		if err := job.Transition(StatusRetrying); err != nil {
			return err
		}
		if err := e.store.Update(context.WithoutCancel(ctx), job); err != nil {
			return fmt.Errorf("persist retrying job %s: %w", job.ID, err)
		}
		log.Warn("Job %s failed (%v), retry %d/%d scheduled", job.ID, cause, job.RetryCount, job.MaxRetries)
		return cause
	}
	e.fail(ctx, job, cause)
	return cause
}

func (e *Executor) fail(ctx context.Context, job *Job, cause error) {
	job.Error = cause.Error()
	if err := job.Transition(StatusFailed); err != nil {
		log.Error("Job %s: %v", job.ID, err)
		return
	}
	if err := e.store.Update(context.WithoutCancel(ctx), job); err != nil {
		log.Error("Failed to persist failed job %s: %v", job.ID, err)
	}
	log.Error("Job %s failed permanently: %v", job.ID, cause)
}

func progressOf(completed, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(completed) / float64(total)
}
