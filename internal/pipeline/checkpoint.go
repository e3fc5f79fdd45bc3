package pipeline

import (
	"sort"
	"time"
)

// Checkpoint is a durable snapshot of a job's partial progress. Every save
// writes the whole snapshot, never a delta, so CompletedIDs and Results
// cannot diverge in storage.
type Checkpoint struct {
	JobID        string
	TotalChunks  int
	CompletedIDs []int
	Results      map[int]ChunkResult
	Metadata     map[string]string
	UpdatedAt    time.Time
}

func NewCheckpoint(jobID string, totalChunks int) *Checkpoint {
	return &Checkpoint{
		JobID:        jobID,
		TotalChunks:  totalChunks,
		CompletedIDs: make([]int, 0),
		Results:      make(map[int]ChunkResult),
		Metadata:     make(map[string]string),
		UpdatedAt:    time.Now().UTC(),
	}
}

// Snapshot builds the checkpoint written for the current result set. The
// completed set is always derived from the result map keys, keeping the two
// consistent by construction.
func Snapshot(jobID string, totalChunks int, results map[int]ChunkResult, metadata map[string]string) *Checkpoint {
	completed := make([]int, 0, len(results))
	copied := make(map[int]ChunkResult, len(results))
	for id, res := range results {
		completed = append(completed, id)
		copied[id] = res
	}
	sort.Ints(completed)

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	return &Checkpoint{
		JobID:        jobID,
		TotalChunks:  totalChunks,
		CompletedIDs: completed,
		Results:      copied,
		Metadata:     meta,
		UpdatedAt:    time.Now().UTC(),
	}
}

// Completed returns the completed chunk ids as a set.
func (c *Checkpoint) Completed() map[int]bool {
	ret := make(map[int]bool, len(c.CompletedIDs))
	for _, id := range c.CompletedIDs {
		ret[id] = true
	}
	return ret
}
