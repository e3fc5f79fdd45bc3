package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusQueued},
		{StatusPending, StatusPaused},
		{StatusPending, StatusCancelled},
		{StatusQueued, StatusRunning},
		{StatusQueued, StatusPending},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
		{StatusRunning, StatusRetrying},
		{StatusRunning, StatusPending},
		{StatusRetrying, StatusQueued},
		{StatusRetrying, StatusPaused},
		{StatusPaused, StatusPending},
		{StatusPaused, StatusCancelled},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	forbidden := []struct{ from, to Status }{
		{StatusPending, StatusRunning},
		{StatusPending, StatusCompleted},
		{StatusRunning, StatusPaused},
		{StatusCompleted, StatusPending},
		{StatusFailed, StatusQueued},
		{StatusCancelled, StatusRunning},
		{StatusPaused, StatusRunning},
	}
	for _, tc := range forbidden {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTerminalStatusesRejectAllTransitions(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		require.True(t, from.Terminal())
		for _, to := range []Status{
			StatusPending, StatusQueued, StatusRunning, StatusRetrying,
			StatusPaused, StatusCompleted, StatusFailed, StatusCancelled,
		} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionBookkeeping(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusPending, CreatedAt: time.Now().UTC()}

	require.NoError(t, job.Transition(StatusQueued))
	require.NoError(t, job.Transition(StatusRunning))
	require.NotNil(t, job.StartedAt)
	started := *job.StartedAt

	require.NoError(t, job.Transition(StatusCompleted))
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(started))
	assert.False(t, job.UpdatedAt.IsZero())
}

func TestTransitionPreservesFirstStartedAt(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusPending}
	require.NoError(t, job.Transition(StatusQueued))
	require.NoError(t, job.Transition(StatusRunning))
	first := *job.StartedAt

	// Retry loop: the original start time survives the second run.
	require.NoError(t, job.Transition(StatusRetrying))
	require.NoError(t, job.Transition(StatusQueued))
	require.NoError(t, job.Transition(StatusRunning))
	assert.Equal(t, first, *job.StartedAt)
}

func TestTransitionIllegal(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusPending}
	err := job.Transition(StatusCompleted)
	require.Error(t, err)
	assert.Equal(t, StatusPending, job.Status)
}

func TestTransitionSelfIsNoop(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusRunning}
	require.NoError(t, job.Transition(StatusRunning))
	assert.Equal(t, StatusRunning, job.Status)
}

func TestClone(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusPending, Metadata: map[string]string{"k": "v"}}
	copied := job.Clone()

	copied.Status = StatusQueued
	copied.Metadata["k"] = "changed"

	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "v", job.Metadata["k"])

	var nilJob *Job
	assert.Nil(t, nilJob.Clone())
}
