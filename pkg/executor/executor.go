// Package executor defines the Executor contract (spec.md §4.4): submit a
// job to a backend, poll it for completion, abort it. Two concrete
// backends are provided: localshell (process spawn) and gridengine
// (remote submit host, async variant only — see SPEC_FULL.md's Open
// Question decision). A third, Null, completes every job immediately.
package executor

import (
	"context"

	"github.com/cuemby/relay/pkg/types"
)

// Executor is the backend contract a job is driven through. Implementations
// MUST be safe to call from the single event loop without explicit
// locking (spec.md §4.4).
type Executor interface {
	// Name identifies this executor instance.
	Name() string

	// Submit populates job.PID (if applicable), SubmitScriptPath,
	// StdoutPath, StderrPath, transitions status to STARTED, and arms
	// NextPollAt.
	Submit(ctx context.Context, job *types.Job) error

	// Poll advances job toward COMPLETE/FAILED, or re-arms NextPollAt if
	// the job is not yet finished.
	Poll(ctx context.Context, job *types.Job) error

	// Abort tears down any remote/local state backing job.
	Abort(ctx context.Context, job *types.Job) error
}
