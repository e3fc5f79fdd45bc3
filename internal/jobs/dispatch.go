package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailed
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one chunk dispatch. A failed outcome
// carries a placeholder result so the merge step keeps one entry per chunk.
type Outcome struct {
	Chunk    pipeline.Chunk
	Result   pipeline.ChunkResult
	Kind     OutcomeKind
	Attempts uint
	Err      error
}

type DispatchStats struct {
	Succeeded int
	Failed    int
	Cancelled int
}

type ControllerConfig struct {
	// Workers bounds how many chunks run at once.
	Workers int
	// ItemTimeout bounds a single attempt on one chunk.
	ItemTimeout time.Duration
	// Attempts is the per-chunk attempt budget, including the first call.
	Attempts uint
	// Backoff is the base delay between attempts; it grows exponentially.
	Backoff time.Duration
}

// ProcessFunc turns one chunk into a result. Errors classified fatal via
// pipeline.Fatal are not retried.
type ProcessFunc func(ctx context.Context, chunk pipeline.Chunk) (pipeline.ChunkResult, error)

// CancelCheck is consulted before each new dispatch. Returning true stops
// further dispatch; chunks already in flight run to completion.
type CancelCheck func(ctx context.Context) bool

// Controller runs an ordered collection of chunks with bounded parallelism,
// per-item timeout and retry, and cooperative pre-dispatch cancellation.
type Controller struct {
	cfg ControllerConfig
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = time.Minute
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Controller{cfg: cfg}
}

// Run dispatches the chunks and blocks until every issued chunk has an
// outcome. onDone, when set, is invoked serially as outcomes arrive. The
// returned error is non-nil only for structural interruption (context
// expiry); per-chunk exhaustion is reported through failed outcomes instead.
func (c *Controller) Run(
	ctx context.Context,
	chunks []pipeline.Chunk,
	process ProcessFunc,
	cancelled CancelCheck,
	onDone func(Outcome),
) ([]Outcome, DispatchStats, error) {
	sem := semaphore.NewWeighted(int64(c.cfg.Workers))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes = make([]Outcome, 0, len(chunks))
		stats    DispatchStats
	)
	record := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, o)
		switch o.Kind {
		case OutcomeSuccess:
			stats.Succeeded++
		case OutcomeFailed:
			stats.Failed++
		case OutcomeCancelled:
			stats.Cancelled++
		}
		if onDone != nil {
			onDone(o)
		}
	}

	var runErr error
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			runErr = err
			recordSkipped(record, chunks[i:])
			break
		}
		if cancelled != nil && cancelled(ctx) {
			recordSkipped(record, chunks[i:])
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			recordSkipped(record, chunks[i:])
			break
		}

		wg.Add(1)
		go func(chunk pipeline.Chunk) {
			defer wg.Done()
			defer sem.Release(1)

			result, attempts, err := c.processWithRetry(ctx, chunk, process)
			if err != nil {
				// A chunk torn down by run-context expiry is interrupted, not
				// exhausted; it must not leave a placeholder in the results.
				if ctx.Err() != nil {
					record(Outcome{
						Chunk:    chunk,
						Kind:     OutcomeCancelled,
						Attempts: attempts,
						Err:      err,
					})
					return
				}
				record(Outcome{
					Chunk:    chunk,
					Result:   pipeline.PlaceholderResult(chunk, err),
					Kind:     OutcomeFailed,
					Attempts: attempts,
					Err:      err,
				})
				return
			}
			record(Outcome{
				Chunk:    chunk,
				Result:   result,
				Kind:     OutcomeSuccess,
				Attempts: attempts,
			})
		}(chunk)
	}

	wg.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}
	return outcomes, stats, runErr
}

func recordSkipped(record func(Outcome), rest []pipeline.Chunk) {
	for _, chunk := range rest {
		record(Outcome{Chunk: chunk, Kind: OutcomeCancelled})
	}
}

func (c *Controller) processWithRetry(
	ctx context.Context,
	chunk pipeline.Chunk,
	process ProcessFunc,
) (pipeline.ChunkResult, uint, error) {
	var (
		result   pipeline.ChunkResult
		attempts uint
	)
	err := retry.Do(
		func() error {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ItemTimeout)
			defer cancel()

			out, err := process(attemptCtx, chunk)
			if err != nil {
				return err
			}
			result = out
			return nil
		},
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.Backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(pipeline.Retryable),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	return result, attempts, err
}
