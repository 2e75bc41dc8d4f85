package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ProcessWorker spawns an external worker process with `sh -c command` in the
// task's working directory. The task description is written to TaskFile first;
// the process's only obligation is to write its result to OutputFile before
// exiting.
type ProcessWorker struct {
	Command string // shell command launching the worker
	Model   string // advisory, exported to the process environment
	Flags   string
}

// NewProcessWorker creates a ProcessWorker for the given launch command.
func NewProcessWorker(command, model, flags string) *ProcessWorker {
	return &ProcessWorker{Command: command, Model: model, Flags: flags}
}

// Invoke runs one worker process and blocks until it exits or timeout elapses.
//
// Any pre-existing OutputFile is deleted before the process starts. This is
// the staleness guard: a run that times out or crashes before writing must
// never be credited with output from a previous invocation.
func (p *ProcessWorker) Invoke(ctx context.Context, task Task, workdir string, timeout time.Duration) (*Outcome, error) {
	if p.Command == "" {
		return nil, fmt.Errorf("worker command not configured")
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir workdir: %w", err)
	}

	// Remove stale output before anything else.
	outputPath := filepath.Join(workdir, OutputFile)
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale output: %w", err)
	}

	if err := os.WriteFile(filepath.Join(workdir, TaskFile), []byte(renderTask(task)), 0o644); err != nil {
		return nil, fmt.Errorf("write task file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := p.Command
	if p.Flags != "" {
		command += " " + p.Flags
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(),
		"EVOFORGE_TASK_FILE="+TaskFile,
		"EVOFORGE_OUTPUT_FILE="+OutputFile,
	)
	if p.Model != "" {
		cmd.Env = append(cmd.Env, "EVOFORGE_MODEL="+p.Model)
	}
	// Kill the whole process group on cancellation, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	outcome := &Outcome{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		Step:     ParseStep(stdoutBuf.String()),
	}

	// Timeout: the process was killed; do not read the output file at all.
	if runCtx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		outcome.ExitCode = -1
		return outcome, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("worker cancelled: %w", ctx.Err())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("spawn worker: %w", runErr)
		}
	}

	data, err := os.ReadFile(outputPath)
	switch {
	case err == nil:
		outcome.Output = string(data)
	case os.IsNotExist(err):
		if outcome.ExitCode != 0 {
			outcome.Crashed = true
		}
	default:
		return nil, fmt.Errorf("read worker output: %w", err)
	}

	return outcome, nil
}

// renderTask formats the task description file handed to the worker.
func renderTask(task Task) string {
	var sb strings.Builder
	sb.WriteString("# Task\n\n")
	sb.WriteString(task.Description)
	sb.WriteString("\n")
	if task.Feedback != "" {
		sb.WriteString("\n## Feedback from previous attempt\n\n")
		sb.WriteString(task.Feedback)
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\nWrite your result to %s before exiting.\n", OutputFile))
	return sb.String()
}
