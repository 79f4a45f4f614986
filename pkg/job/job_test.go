package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/relay/pkg/types"
)

func TestNew_StartsInitialized(t *testing.T) {
	resource := &types.DataInstance{UUID: "di-1"}
	j := New("job-1", "download", "curl ...", resource)

	assert.Equal(t, types.JobInitialized, j.Status)
	assert.Equal(t, "download", j.AdapterConfigID)
	assert.Same(t, resource, j.Resource)
	assert.False(t, j.CreatedAt.IsZero())
}

func TestMarkStarted_ArmsNextPoll(t *testing.T) {
	j := &types.Job{Status: types.JobInitialized}
	next := time.Now().Add(2 * time.Second)

	MarkStarted(j, next)

	assert.Equal(t, types.JobStarted, j.Status)
	assert.Equal(t, next, j.NextPollAt)
	assert.False(t, j.StartedAt.IsZero())
}

func TestMarkFailed_DoesNotBumpFailureCount(t *testing.T) {
	j := &types.Job{Status: types.JobStarted, FailureCount: 3}

	MarkFailed(j, 1)

	assert.Equal(t, types.JobFailed, j.Status)
	assert.Equal(t, 1, j.ExitCode)
	assert.Equal(t, 3, j.FailureCount, "FailureCount is the event loop's responsibility, not the executor's")
	assert.False(t, j.FinishedAt.IsZero())
}

func TestDuePoll(t *testing.T) {
	now := time.Now()
	assert.True(t, DuePoll(&types.Job{NextPollAt: now.Add(-time.Second)}, now))
	assert.True(t, DuePoll(&types.Job{NextPollAt: now}, now))
	assert.False(t, DuePoll(&types.Job{NextPollAt: now.Add(time.Second)}, now))
}

func TestReadyToAdvance(t *testing.T) {
	now := time.Now()

	assert.True(t, ReadyToAdvance(&types.Job{Status: types.JobInitialized}, now))
	assert.True(t, ReadyToAdvance(&types.Job{Status: types.JobComplete}, now))
	assert.True(t, ReadyToAdvance(&types.Job{Status: types.JobFailed}, now))

	assert.False(t, ReadyToAdvance(&types.Job{Status: types.JobRunning, NextPollAt: now.Add(time.Minute)}, now))
	assert.True(t, ReadyToAdvance(&types.Job{Status: types.JobRunning, NextPollAt: now.Add(-time.Minute)}, now))
}
