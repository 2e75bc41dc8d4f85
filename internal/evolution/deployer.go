package evolution

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasnoah/evoforge/internal/config"
)

// DeploymentResult describes a completed deploy to the test environment.
type DeploymentResult struct {
	FilesCopied int           `json:"files_copied"`
	Restarted   bool          `json:"restarted"`
	Duration    time.Duration `json:"duration_ns"`
}

// Deployer moves a project's artifacts into the isolated test environment.
// Every deploy starts from the baseline tree so leftovers from earlier
// deploys can never leak into validation.
type Deployer struct {
	env     config.Environments
	cmd     CommandRunner
	timeout time.Duration
}

// NewDeployer creates a Deployer for the configured environments.
func NewDeployer(env config.Environments, cmd CommandRunner) *Deployer {
	return &Deployer{env: env, cmd: cmd, timeout: 5 * time.Minute}
}

// Deploy resets the test environment to baseline, overlays the artifacts
// from sourceDir, and restarts the test service when a restart command is
// configured. A restart failure fails the deploy.
func (d *Deployer) Deploy(ctx context.Context, sourceDir string) (*DeploymentResult, error) {
	if d.env.Test.Path == "" {
		return nil, fmt.Errorf("test environment path not configured")
	}

	start := time.Now()
	if d.env.Baseline != "" {
		if _, err := ResetTree(d.env.Baseline, d.env.Test.Path); err != nil {
			return nil, fmt.Errorf("reset test env to baseline: %w", err)
		}
	}

	copied, err := CopyTree(sourceDir, d.env.Test.Path)
	if err != nil {
		return nil, fmt.Errorf("deploy artifacts: %w", err)
	}

	res := &DeploymentResult{FilesCopied: copied}
	if d.env.Test.RestartCommand != "" {
		if err := d.restart(ctx); err != nil {
			return nil, err
		}
		res.Restarted = true
	}
	res.Duration = time.Since(start)
	return res, nil
}

// Rollback returns the test environment to the baseline tree and restarts it.
func (d *Deployer) Rollback(ctx context.Context) error {
	if d.env.Baseline == "" {
		return fmt.Errorf("no baseline configured, cannot roll back")
	}
	if _, err := ResetTree(d.env.Baseline, d.env.Test.Path); err != nil {
		return fmt.Errorf("roll back test env: %w", err)
	}
	if d.env.Test.RestartCommand != "" {
		return d.restart(ctx)
	}
	return nil
}

func (d *Deployer) restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, stderr, exitCode, err := d.cmd.Run(ctx, d.env.Test.Path, d.env.Test.RestartCommand)
	if err != nil {
		return fmt.Errorf("restart test env: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("restart test env failed (exit %d): %s", exitCode, firstLine(stderr))
	}
	return nil
}
