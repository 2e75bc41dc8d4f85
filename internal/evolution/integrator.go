package evolution

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lucasnoah/evoforge/internal/config"
)

// IntegrationResult describes a completed promotion to production.
type IntegrationResult struct {
	BackupID    string `json:"backup_id"`
	FilesCopied int    `json:"files_copied"`
	Restarted   bool   `json:"restarted"`
}

// Integrator promotes validated artifacts from the test environment into
// production. A snapshot of production is always taken first; any failure
// after the snapshot restores production from it.
type Integrator struct {
	env     config.Environments
	cmd     CommandRunner
	timeout time.Duration
	now     func() time.Time
}

// NewIntegrator creates an Integrator for the configured environments.
func NewIntegrator(env config.Environments, cmd CommandRunner) *Integrator {
	return &Integrator{env: env, cmd: cmd, timeout: 5 * time.Minute, now: time.Now}
}

// Integrate snapshots production, overlays the artifacts from sourceDir, and
// restarts the production service. On copy or restart failure production is
// restored from the snapshot before the error is returned.
func (i *Integrator) Integrate(ctx context.Context, sourceDir string) (*IntegrationResult, error) {
	if i.env.Production.Path == "" {
		return nil, fmt.Errorf("production path not configured")
	}
	if i.env.Production.BackupDir == "" {
		return nil, fmt.Errorf("production backup_dir not configured, refusing to integrate without a snapshot")
	}

	backupID := "backup-" + i.now().UTC().Format("20060102-150405")
	backupPath := filepath.Join(i.env.Production.BackupDir, backupID)
	if _, err := ResetTree(i.env.Production.Path, backupPath); err != nil {
		return nil, fmt.Errorf("snapshot production: %w", err)
	}

	copied, err := CopyTree(sourceDir, i.env.Production.Path)
	if err != nil {
		if restoreErr := i.restore(backupPath); restoreErr != nil {
			return nil, fmt.Errorf("integrate failed (%v) and restore failed: %w", err, restoreErr)
		}
		return nil, fmt.Errorf("integrate artifacts (production restored from %s): %w", backupID, err)
	}

	res := &IntegrationResult{BackupID: backupID, FilesCopied: copied}
	if i.env.Production.RestartCommand != "" {
		if err := i.restart(ctx); err != nil {
			if restoreErr := i.restore(backupPath); restoreErr != nil {
				return nil, fmt.Errorf("restart failed (%v) and restore failed: %w", err, restoreErr)
			}
			// Restart again on the restored tree so production keeps serving.
			_ = i.restart(ctx)
			return nil, fmt.Errorf("production restart (restored from %s): %w", backupID, err)
		}
		res.Restarted = true
	}
	return res, nil
}

func (i *Integrator) restore(backupPath string) error {
	if _, err := ResetTree(backupPath, i.env.Production.Path); err != nil {
		return fmt.Errorf("restore production: %w", err)
	}
	return nil
}

func (i *Integrator) restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	_, stderr, exitCode, err := i.cmd.Run(ctx, i.env.Production.Path, i.env.Production.RestartCommand)
	if err != nil {
		return fmt.Errorf("restart production: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("restart production failed (exit %d): %s", exitCode, firstLine(stderr))
	}
	return nil
}
