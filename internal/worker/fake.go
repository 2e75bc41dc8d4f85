package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fake is a scripted Worker for tests. Each Invoke consumes the next queued
// outcome; invocations are recorded for assertions.
type Fake struct {
	mu       sync.Mutex
	Outcomes []*Outcome
	Err      error         // returned on every call when set
	Delay    time.Duration // simulated work before returning
	Calls    []Task
}

// NewFake creates a Fake that returns the given outcomes in order.
func NewFake(outcomes ...*Outcome) *Fake {
	return &Fake{Outcomes: outcomes}
}

// Invoke pops the next scripted outcome. When an outcome carries Output, it is
// also written to OutputFile in workdir so callers that read the file behave
// as they would against a real worker.
func (f *Fake) Invoke(ctx context.Context, task Task, workdir string, timeout time.Duration) (*Outcome, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, task)
	var next *Outcome
	if len(f.Outcomes) > 0 {
		next = f.Outcomes[0]
		f.Outcomes = f.Outcomes[1:]
	}
	err := f.Err
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, fmt.Errorf("fake worker: no scripted outcome for call %d", len(f.Calls))
	}

	if next.Output != "" && workdir != "" {
		if mkErr := os.MkdirAll(workdir, 0o755); mkErr != nil {
			return nil, mkErr
		}
		if wrErr := os.WriteFile(filepath.Join(workdir, OutputFile), []byte(next.Output), 0o644); wrErr != nil {
			return nil, wrErr
		}
	}
	return next, nil
}

// CallCount returns how many times Invoke has been called.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
