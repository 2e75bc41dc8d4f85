package gate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result is the structured outcome of one quality gate check.
type Result struct {
	Gate    string            `json:"gate"` // gate kind
	Passed  bool              `json:"passed"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Descriptor selects a gate kind and its parameters.
type Descriptor struct {
	Type   string
	Params map[string]string
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes quality gates. Gates are deterministic, local-only, and
// never retry internally; the orchestrator decides what to do with a failure.
type Runner struct {
	cmd     CommandRunner
	timeout time.Duration
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{cmd: cmd, timeout: 2 * time.Minute}
}

// SetTimeout overrides the per-command timeout (for testing).
func (r *Runner) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Check runs the described gate against a phase's declared output files in
// workdir and returns a structured result. An error is returned only for
// malformed descriptors, never for a failing check.
func (r *Runner) Check(desc Descriptor, workdir string, outputs []string) (*Result, error) {
	switch desc.Type {
	case "files_exist":
		return r.checkFilesExist(workdir, outputs), nil
	case "syntax_check":
		return r.checkSyntax(desc, workdir, outputs)
	case "tests_pass":
		return r.checkTests(desc, workdir)
	default:
		return nil, fmt.Errorf("unknown gate type %q", desc.Type)
	}
}

// checkFilesExist passes iff every declared output path exists under workdir.
func (r *Runner) checkFilesExist(workdir string, outputs []string) *Result {
	res := &Result{Gate: "files_exist", Passed: true, Details: make(map[string]string)}

	var missing []string
	for _, rel := range outputs {
		path := filepath.Join(workdir, rel)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, rel)
			res.Details[rel] = "missing"
		} else {
			res.Details[rel] = "present"
		}
	}

	if len(missing) > 0 {
		res.Passed = false
		res.Message = fmt.Sprintf("%d of %d declared outputs missing: %s",
			len(missing), len(outputs), strings.Join(missing, ", "))
	} else {
		res.Message = fmt.Sprintf("all %d declared outputs present", len(outputs))
	}
	return res
}

// checkSyntax runs the configured parser command once per output file. The
// file path is appended to the command. Pass iff every file is accepted.
func (r *Runner) checkSyntax(desc Descriptor, workdir string, outputs []string) (*Result, error) {
	command := desc.Params["command"]
	if command == "" {
		return nil, fmt.Errorf("syntax_check gate requires params.command")
	}

	res := &Result{Gate: "syntax_check", Passed: true, Details: make(map[string]string)}

	var failed []string
	for _, rel := range outputs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		stdout, stderr, exitCode, err := r.cmd.Run(ctx, workdir, command+" "+shellQuote(rel))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("run syntax check on %q: %w", rel, err)
		}
		if exitCode != 0 {
			failed = append(failed, rel)
			res.Details[rel] = firstLine(stderr, stdout)
		} else {
			res.Details[rel] = "ok"
		}
	}

	if len(failed) > 0 {
		res.Passed = false
		res.Message = fmt.Sprintf("syntax errors in %s", strings.Join(failed, ", "))
	} else {
		res.Message = fmt.Sprintf("all %d files parse cleanly", len(outputs))
	}
	return res, nil
}

// checkTests runs the declared test command, passing iff it exits 0.
func (r *Runner) checkTests(desc Descriptor, workdir string) (*Result, error) {
	command := desc.Params["command"]
	if command == "" {
		return nil, fmt.Errorf("tests_pass gate requires params.command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, workdir, command)
	if err != nil {
		return nil, fmt.Errorf("run test command: %w", err)
	}

	res := &Result{
		Gate:   "tests_pass",
		Passed: exitCode == 0,
		Details: map[string]string{
			"command":     command,
			"exit_code":   fmt.Sprintf("%d", exitCode),
			"duration_ms": fmt.Sprintf("%d", time.Since(start).Milliseconds()),
		},
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.Passed = false
		res.Message = fmt.Sprintf("test command timed out after %s", r.timeout)
		return res, nil
	}
	if res.Passed {
		res.Message = "test suite passed"
	} else {
		res.Message = fmt.Sprintf("test suite failed (exit %d): %s", exitCode, firstLine(stderr, stdout))
	}
	return res, nil
}

// firstLine returns the first non-empty line from the given strings, preferring
// earlier arguments.
func firstLine(candidates ...string) string {
	for _, c := range candidates {
		for _, line := range strings.Split(c, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				return s
			}
		}
	}
	return ""
}

// shellQuote single-quotes a path for safe interpolation into sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
