// Package job implements the per-job state machine transitions from
// spec.md §4.2, grounded in the teacher's pkg/reconciler/reconciler.go
// "advance toward desired state" shape, narrowed from container
// reconciliation to the five-state INITIALIZED/STARTED/RUNNING/
// COMPLETE/FAILED machine.
package job

import (
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// New constructs a fresh INITIALIZED job for the given adapter/command.
func New(id, adapterConfigID, commandText string, resource *types.DataInstance) *types.Job {
	return &types.Job{
		ID:              id,
		AdapterConfigID: adapterConfigID,
		CommandText:     commandText,
		Status:          types.JobInitialized,
		Resource:        resource,
		CreatedAt:       time.Now(),
	}
}

// MarkStarted transitions INITIALIZED -> STARTED after a successful
// Executor.submit, arming the next poll deadline.
func MarkStarted(j *types.Job, nextPollAt time.Time) {
	j.Status = types.JobStarted
	j.NextPollAt = nextPollAt
	j.StartedAt = time.Now()
}

// MarkRunning transitions STARTED -> RUNNING after the first poll reports
// the job is actually executing.
func MarkRunning(j *types.Job, nextPollAt time.Time) {
	j.Status = types.JobRunning
	j.NextPollAt = nextPollAt
}

// ReArm keeps a job in RUNNING/STARTED, bumping its next poll deadline
// (spec.md §4.2 "poll not ready").
func ReArm(j *types.Job, nextPollAt time.Time) {
	j.NextPollAt = nextPollAt
}

// MarkComplete transitions to COMPLETE after a poll reports success.
func MarkComplete(j *types.Job, exitCode int) {
	j.Status = types.JobComplete
	j.ExitCode = exitCode
	j.FinishedAt = time.Now()
}

// MarkFailed transitions to FAILED. Per spec.md §4.2, FAILED is subject to
// the retry policy rather than being immediately terminal for the owning
// event; the event loop's recordFailure is the single place that bumps
// FailureCount, since a job can also fail before ever reaching FAILED
// (e.g. a submit-time transport error).
func MarkFailed(j *types.Job, exitCode int) {
	j.Status = types.JobFailed
	j.ExitCode = exitCode
	j.FinishedAt = time.Now()
}

// DuePoll reports whether j's next_poll_at deadline has passed.
func DuePoll(j *types.Job, now time.Time) bool {
	return !j.NextPollAt.After(now)
}

// ReadyToAdvance reports whether j needs a loop action this iteration:
// INITIALIZED always does (submit); STARTED/RUNNING only once their poll
// deadline is due; COMPLETE/FAILED always do (finishJob/cleanup).
func ReadyToAdvance(j *types.Job, now time.Time) bool {
	switch j.Status {
	case types.JobInitialized, types.JobComplete, types.JobFailed:
		return true
	case types.JobStarted, types.JobRunning:
		return DuePoll(j, now)
	default:
		return false
	}
}
