package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func invoke(t *testing.T, w *ProcessWorker, dir string, timeout time.Duration) *Outcome {
	t.Helper()
	outcome, err := w.Invoke(context.Background(), Task{Phase: "p1", Description: "do the thing"}, dir, timeout)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	return outcome
}

func TestInvokeSuccess(t *testing.T) {
	dir := t.TempDir()
	w := NewProcessWorker(`echo hello && echo '{"ok":true}' > "$EVOFORGE_OUTPUT_FILE"`, "", "")

	outcome := invoke(t, w, dir, 30*time.Second)

	if outcome.Failed() {
		t.Fatalf("expected success, got timed_out=%v crashed=%v", outcome.TimedOut, outcome.Crashed)
	}
	if !strings.Contains(outcome.Output, `"ok":true`) {
		t.Errorf("expected output file contents, got %q", outcome.Output)
	}
	if !strings.Contains(outcome.Stdout, "hello") {
		t.Errorf("expected captured stdout, got %q", outcome.Stdout)
	}
	if outcome.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", outcome.ExitCode)
	}
}

func TestInvokeWritesTaskFile(t *testing.T) {
	dir := t.TempDir()
	w := NewProcessWorker(`cat "$EVOFORGE_TASK_FILE" > "$EVOFORGE_OUTPUT_FILE"`, "", "")

	outcome, err := w.Invoke(context.Background(), Task{
		Description: "implement feature X",
		Feedback:    "tests were missing last time",
	}, dir, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(outcome.Output, "implement feature X") {
		t.Errorf("task description not written: %q", outcome.Output)
	}
	if !strings.Contains(outcome.Output, "tests were missing last time") {
		t.Errorf("feedback not written: %q", outcome.Output)
	}
}

func TestInvokeCrash(t *testing.T) {
	dir := t.TempDir()
	w := NewProcessWorker("exit 3", "", "")

	outcome := invoke(t, w, dir, 30*time.Second)

	if !outcome.Crashed {
		t.Error("expected crashed=true for non-zero exit without output")
	}
	if outcome.TimedOut {
		t.Error("expected timed_out=false")
	}
	if outcome.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", outcome.ExitCode)
	}
}

func TestInvokeNonZeroExitWithOutputIsNotCrash(t *testing.T) {
	dir := t.TempDir()
	w := NewProcessWorker(`echo partial > "$EVOFORGE_OUTPUT_FILE"; exit 1`, "", "")

	outcome := invoke(t, w, dir, 30*time.Second)

	if outcome.Crashed {
		t.Error("worker that produced output should not be marked crashed")
	}
	if outcome.Output == "" {
		t.Error("expected output to be read")
	}
}

func TestInvokeTimeout(t *testing.T) {
	dir := t.TempDir()
	w := NewProcessWorker("sleep 10", "", "")

	start := time.Now()
	outcome := invoke(t, w, dir, 200*time.Millisecond)

	if !outcome.TimedOut {
		t.Fatal("expected timed_out=true")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout did not terminate process promptly (%s)", elapsed)
	}
	if outcome.Output != "" {
		t.Errorf("timed-out invocation must carry no output, got %q", outcome.Output)
	}
}

// A timed-out invocation must never surface an output file written by a
// previous run in the same working directory.
func TestInvokeTimeoutDoesNotReadStaleOutput(t *testing.T) {
	dir := t.TempDir()

	first := NewProcessWorker(`echo "first run result" > "$EVOFORGE_OUTPUT_FILE"`, "", "")
	outcome := invoke(t, first, dir, 30*time.Second)
	if !strings.Contains(outcome.Output, "first run result") {
		t.Fatalf("setup: first run should succeed, got %q", outcome.Output)
	}

	// Second run times out before writing anything.
	second := NewProcessWorker("sleep 10", "", "")
	outcome = invoke(t, second, dir, 200*time.Millisecond)

	if !outcome.TimedOut {
		t.Fatal("expected second run to time out")
	}
	if outcome.Output != "" {
		t.Fatalf("stale output leaked from previous run: %q", outcome.Output)
	}
	// The stale file must be gone from disk too, not merely unread.
	if _, err := os.Stat(filepath.Join(dir, OutputFile)); !os.IsNotExist(err) {
		t.Error("stale output file should have been deleted before invocation")
	}
}

func TestInvokeCancelledContext(t *testing.T) {
	dir := t.TempDir()
	w := NewProcessWorker("sleep 10", "", "")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := w.Invoke(ctx, Task{Description: "x"}, dir, time.Minute)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   Step
	}{
		{"none", "just some text\n", StepUnknown},
		{"single", "##STEP: analyzing\n", StepAnalyzing},
		{"last wins", "##STEP: analyzing\nwork...\n##STEP: testing\n", StepTesting},
		{"case insensitive", "##STEP: DONE\n", StepDone},
		{"unrecognized ignored", "##STEP: analyzing\n##STEP: daydreaming\n", StepAnalyzing},
		{"indented", "  ##STEP: implementing  \n", StepImplementing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseStep(tt.stdout); got != tt.want {
				t.Errorf("ParseStep(%q) = %s, want %s", tt.stdout, got, tt.want)
			}
		})
	}
}
