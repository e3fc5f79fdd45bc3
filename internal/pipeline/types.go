package pipeline

import (
	"context"
	"time"
)

// Document is the unit of input submitted to the engine. The engine never
// interprets Text; format parsing happens upstream of submission.
type Document struct {
	Name string
	Text string
}

// Chunk is one independently processable slice of a document. Indices are
// zero-based and contiguous within a job.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ChunkResult is the output the worker produced for a single chunk.
type ChunkResult struct {
	Index      int               `json:"index"`
	Text       string            `json:"text"`
	Quality    float64           `json:"quality,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ProducedAt time.Time         `json:"produced_at"`
}

// Artifact is the merged output of a completed job.
type Artifact struct {
	Text string `json:"text"`
}

// Chunker splits a document into an ordered sequence of work units.
// Returned chunks must carry contiguous indices 0..N-1.
type Chunker interface {
	Chunk(ctx context.Context, doc Document) ([]Chunk, error)
}

// Worker turns one chunk into a result. Failures should be classified with
// Transient or Fatal so the dispatcher knows whether a retry can help.
type Worker interface {
	Process(ctx context.Context, chunk Chunk) (ChunkResult, error)
}

// Merger combines results, already sorted by chunk index, into the final
// artifact.
type Merger interface {
	Merge(ctx context.Context, results []ChunkResult) (Artifact, error)
}

// PlaceholderResult stands in for a chunk whose worker calls were exhausted.
// The original text passes through untranslated so the merged artifact keeps
// its shape; metadata marks the gap for the caller.
func PlaceholderResult(chunk Chunk, cause error) ChunkResult {
	meta := map[string]string{"placeholder": "true"}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	return ChunkResult{
		Index:      chunk.Index,
		Text:       chunk.Text,
		Metadata:   meta,
		ProducedAt: time.Now().UTC(),
	}
}
