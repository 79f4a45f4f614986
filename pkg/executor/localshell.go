package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuemby/relay/pkg/job"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/types"
)

// LocalShell runs a job's command text as a temporary shell script,
// grounded in the teacher's pkg/health/exec.go ExecChecker: os/exec with
// context-bound timeout, stdout/stderr captured to buffers, generalised
// here from a one-shot health probe to a script spawned once at Submit, with
// stdout/stderr redirected to files, and inspected across repeated Poll
// calls (spec.md §4.4 "Local shell"). A goroutine waits on the process and
// keeps its exit code in memory; no exit-code sentinel file is written, so
// Poll fails with a Fatal error for a job whose process this LocalShell
// did not start.
type LocalShell struct {
	name    string
	workDir string

	// PollInterval controls how far NextPollAt is re-armed after a poll
	// that finds the process still running.
	PollInterval time.Duration

	processes map[string]*runningProcess
}

type runningProcess struct {
	cmd        *exec.Cmd
	done        chan struct{}
	exitCode    int
	stdout      string
	stderr      string
}

// NewLocalShell builds a LocalShell executor rooted at workDir for its
// temporary script/output files.
func NewLocalShell(name, workDir string) *LocalShell {
	return &LocalShell{
		name:         name,
		workDir:      workDir,
		PollInterval: 2 * time.Second,
		processes:    make(map[string]*runningProcess),
	}
}

func (l *LocalShell) Name() string { return l.name }

func (l *LocalShell) Submit(_ context.Context, j *types.Job) error {
	scriptPath := filepath.Join(l.workDir, j.ID+".sh")
	stdoutPath := filepath.Join(l.workDir, j.ID+".stdout")
	stderrPath := filepath.Join(l.workDir, j.ID+".stderr")

	script := "#!/bin/bash\nset -e\n" + j.CommandText + "\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0700); err != nil {
		return relayerr.NewRetryable("localshell submit: write script", err)
	}

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return relayerr.NewRetryable("localshell submit: open stdout", err)
	}
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		stdoutFile.Close()
		return relayerr.NewRetryable("localshell submit: open stderr", err)
	}

	cmd := exec.Command("/bin/bash", scriptPath)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		return relayerr.NewRetryable("localshell submit: start", err)
	}

	rp := &runningProcess{cmd: cmd, done: make(chan struct{})}
	l.processes[j.ID] = rp

	go func() {
		err := cmd.Wait()
		stdoutFile.Close()
		stderrFile.Close()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				rp.exitCode = exitErr.ExitCode()
			} else {
				rp.exitCode = -1
			}
		}
		close(rp.done)
	}()

	j.PID = cmd.Process.Pid
	j.SubmitScriptPath = scriptPath
	j.StdoutPath = stdoutPath
	j.StderrPath = stderrPath
	job.MarkStarted(j, time.Now().Add(l.PollInterval))
	return nil
}

func (l *LocalShell) Poll(_ context.Context, j *types.Job) error {
	rp, ok := l.processes[j.ID]
	if !ok {
		return relayerr.NewFatal("localshell poll: no tracked process", fmt.Errorf("job %s", j.ID))
	}

	select {
	case <-rp.done:
	default:
		job.MarkRunning(j, time.Now().Add(l.PollInterval))
		return nil
	}

	j.ExitCode = rp.exitCode
	j.Stdout = readLines(j.StdoutPath)
	j.Stderr = readLines(j.StderrPath)

	if j.ExitCode == 0 {
		job.MarkComplete(j, j.ExitCode)
	} else {
		job.MarkFailed(j, j.ExitCode)
	}

	delete(l.processes, j.ID)
	_ = os.Remove(j.SubmitScriptPath)
	return nil
}

func (l *LocalShell) Abort(_ context.Context, j *types.Job) error {
	rp, ok := l.processes[j.ID]
	if !ok {
		return nil
	}
	if rp.cmd.Process != nil {
		_ = rp.cmd.Process.Kill()
	}
	delete(l.processes, j.ID)
	return nil
}

func readLines(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}

var _ Executor = (*LocalShell)(nil)
