package jobs

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// transitions lists the permitted next statuses for each status. PAUSED is
// only entered manually, never by the scheduler or executor.
var transitions = map[Status][]Status{
	StatusPending:  {StatusQueued, StatusPaused, StatusCancelled},
	StatusQueued:   {StatusRunning, StatusPending, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusCancelled, StatusRetrying, StatusPending},
	StatusRetrying: {StatusQueued, StatusPaused, StatusCancelled},
	StatusPaused:   {StatusPending, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Spec is the caller-facing description of a job to submit.
type Spec struct {
	Name       string
	Text       string
	SourceLang string
	TargetLang string
	Mode       string
	Priority   Priority
	MaxRetries int
	Metadata   map[string]string
}

// Job is a single document translation tracked by the queue. Exactly one
// executor may hold a job in RUNNING at a time; the atomic dequeue
// transition enforces this, not external locking.
type Job struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Input    string            `json:"input"`
	Result   string            `json:"result,omitempty"`
	Priority Priority          `json:"priority"`
	Status   Status            `json:"status"`
	Progress float64           `json:"progress"`
	Stage    string            `json:"stage,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang"`
	Mode       string `json:"mode,omitempty"`

	RetryCount      int    `json:"retry_count"`
	MaxRetries      int    `json:"max_retries"`
	CancelRequested bool   `json:"cancel_requested"`
	Error           string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition validates and applies a status change, updating the bookkeeping
// timestamps that accompany it.
func (j *Job) Transition(to Status) error {
	if j.Status == to {
		return nil
	}
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", j.Status, to, j.ID)
	}
	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case StatusRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = &now
	}
	return nil
}

// Clone returns a copy safe to hand outside the store's lock.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	tmp := *j
	if j.Metadata != nil {
		tmp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			tmp.Metadata[k] = v
		}
	}
	return &tmp
}
