package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Project is one change-set tracked through the staged deployment pipeline.
// Never deleted; its status only ever transitions forward or to failed.
type Project struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Store manages project status records on disk. Every record lives at
// <baseDir>/<name>/project.json and is written atomically; an advisory flock
// per project serializes check-then-set transitions across processes.
type Store struct {
	baseDir string // defaults to ~/.evoforge/projects
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.evoforge/projects, creating the directory
// if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".evoforge", "projects")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Dir returns the state directory for a project.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.baseDir, name)
}

// AttemptDir returns the artifact directory for a phase attempt within a project run.
func (s *Store) AttemptDir(name, phase string, attempt int) string {
	return filepath.Join(s.Dir(name), "phases", phase, fmt.Sprintf("attempt-%d", attempt))
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.Dir(name), "project.json")
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.Dir(name), "project.lock")
}

// withLock runs fn while holding the project's advisory lock.
func (s *Store) withLock(name string, fn func() error) error {
	if err := os.MkdirAll(s.Dir(name), 0o755); err != nil {
		return fmt.Errorf("mkdir project dir: %w", err)
	}
	lock := NewFileLock(s.lockPath(name))
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()
	return fn()
}

// Create initialises a new project record on disk with status pending.
func (s *Store) Create(name, path string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	var p *Project
	err := s.withLock(name, func() error {
		if _, err := os.Stat(s.recordPath(name)); err == nil {
			return fmt.Errorf("project %q already exists", name)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		p = &Project{
			Name:      name,
			Path:      path,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return WriteJSON(s.recordPath(name), p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get reads the record for a project.
func (s *Store) Get(name string) (*Project, error) {
	var p Project
	if err := ReadJSON(s.recordPath(name), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("project %q not found", name)
		}
		return nil, err
	}
	return &p, nil
}

// Update performs a locked read-modify-write of the project record.
func (s *Store) Update(name string, fn func(*Project)) error {
	return s.withLock(name, func() error {
		p, err := s.Get(name)
		if err != nil {
			return err
		}
		fn(p)
		p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		return WriteJSON(s.recordPath(name), p)
	})
}

// Transition moves the project to the given status, enforcing the state
// machine. The check and the write happen under the project lock.
func (s *Store) Transition(name string, to Status) error {
	return s.withLock(name, func() error {
		p, err := s.Get(name)
		if err != nil {
			return err
		}
		if !p.Status.CanTransition(to) {
			return &InvalidTransitionError{Project: name, From: p.Status, To: to}
		}
		p.Status = to
		if to != StatusFailed {
			p.Error = ""
		}
		p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		return WriteJSON(s.recordPath(name), p)
	})
}

// CheckAndStart atomically performs the pipeline pre-checks and claims the
// project by setting status developing. It rejects with BusyError when a run
// already holds the project, and with AlreadyIntegratedError when the project
// is integrated and force is false. force bypasses only the integrated check,
// never the concurrency guard.
func (s *Store) CheckAndStart(name string, force bool) (*Project, error) {
	var claimed *Project
	err := s.withLock(name, func() error {
		p, err := s.Get(name)
		if err != nil {
			return err
		}
		switch p.Status {
		case StatusDeveloping, StatusValidating:
			return &BusyError{Project: name, Status: p.Status}
		case StatusIntegrated:
			if !force {
				return &AlreadyIntegratedError{Project: name}
			}
			// force restarts an integrated project from the top.
			p.Status = StatusPending
		case StatusFailed:
			// A failed project may be re-run from the top.
			p.Status = StatusPending
		}
		p.Status = StatusDeveloping
		p.Error = ""
		p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		if err := WriteJSON(s.recordPath(name), p); err != nil {
			return err
		}
		claimed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SetFailed marks the project failed and records the error message.
func (s *Store) SetFailed(name, msg string) error {
	return s.withLock(name, func() error {
		p, err := s.Get(name)
		if err != nil {
			return err
		}
		if p.Status.Terminal() && p.Status != StatusFailed {
			return &InvalidTransitionError{Project: name, From: p.Status, To: StatusFailed}
		}
		p.Status = StatusFailed
		p.Error = msg
		p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		return WriteJSON(s.recordPath(name), p)
	})
}

// List returns all projects, optionally filtered by status.
// Pass "" for statusFilter to return all projects.
func (s *Store) List(statusFilter Status) ([]Project, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var projects []Project
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || p.Status == statusFilter {
			projects = append(projects, *p)
		}
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Name < projects[j].Name
	})
	return projects, nil
}

// SaveTask writes the rendered task description for a phase attempt.
func (s *Store) SaveTask(name, phase string, attempt int, task string) error {
	dir := s.AttemptDir(name, phase, attempt)
	return WriteAtomic(filepath.Join(dir, "task.md"), []byte(task))
}

// SavePhaseResult writes the result JSON for a phase attempt.
func (s *Store) SavePhaseResult(name, phase string, attempt int, result interface{}) error {
	dir := s.AttemptDir(name, phase, attempt)
	return WriteJSON(filepath.Join(dir, "result.json"), result)
}

// SaveGateResult writes the gate result JSON for a phase attempt.
func (s *Store) SaveGateResult(name, phase string, attempt int, result interface{}) error {
	dir := s.AttemptDir(name, phase, attempt)
	return WriteJSON(filepath.Join(dir, "gate.json"), result)
}
