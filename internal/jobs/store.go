package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/nclamvn/dich-tai-lieu-sub001/internal/pipeline"
)

// ErrNotFound is returned when no job matches the given id or prefix.
var ErrNotFound = errors.New("job not found")

// ErrAmbiguousID is returned when a prefix lookup matches more than one job.
var ErrAmbiguousID = errors.New("ambiguous job id prefix")

// Filter narrows List results. A nil/empty field means no constraint.
type Filter struct {
	Status []Status
	Limit  int
}

// Stats summarizes queue depth and backlog.
type Stats struct {
	ByStatus     map[Status]int `json:"by_status"`
	Eligible     int            `json:"eligible"`
	OldestWait   time.Duration  `json:"oldest_wait"`
	TotalJobs    int            `json:"total_jobs"`
	CacheEntries int            `json:"cache_entries"`
}

// Store persists jobs and hands them out to executors. DequeueNext must be
// atomic: two concurrent callers never receive the same job.
type Store interface {
	Create(ctx context.Context, job *Job) error
	// DequeueNext picks the highest-priority oldest eligible job among
	// {PENDING, RETRYING} whose scheduled time has passed, marks it QUEUED
	// and returns it. Returns (nil, nil) when nothing is eligible.
	DequeueNext(ctx context.Context) (*Job, error)
	// Update persists all mutable fields of the job (full-row replace).
	// The cancellation flag only rises; Update never clears it.
	Update(ctx context.Context, job *Job) error
	// Get resolves an exact id first, then a unique prefix.
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, f Filter) ([]*Job, error)
	Stats(ctx context.Context) (Stats, error)
	// RequestCancel flips the cancellation flag; the executor observes it
	// before dispatching each new chunk.
	RequestCancel(ctx context.Context, id string) error
	// ResetOrphans returns RUNNING/QUEUED jobs with no live executor to
	// PENDING so the next scheduler pass resumes them. Called once at
	// startup, before any executor runs.
	ResetOrphans(ctx context.Context) (int64, error)
	// DeleteTerminalBefore removes terminal jobs untouched since cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CheckpointStore persists partial-progress snapshots for crash recovery.
type CheckpointStore interface {
	// SaveCheckpoint replaces the whole stored snapshot for the job.
	SaveCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error
	// LoadCheckpoint returns (nil, nil) when no checkpoint exists.
	LoadCheckpoint(ctx context.Context, jobID string) (*pipeline.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, jobID string) error
}

// ChunkCache memoizes per-chunk results by content-addressed key. Entries
// are immutable once written; concurrent writers under the same key carry
// semantically identical input, so last-write-wins is safe.
type ChunkCache interface {
	// GetChunk returns (nil, nil) on a miss. Expired entries still hit;
	// the TTL is advisory and only honored by the retention sweep.
	GetChunk(ctx context.Context, key string) (*pipeline.ChunkResult, error)
	PutChunk(ctx context.Context, key string, result pipeline.ChunkResult) error
	DeleteExpiredChunks(ctx context.Context, now time.Time) (int64, error)
}
