package evolution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/evoforge/internal/config"
)

// SuiteResult is the outcome of one validation suite.
type SuiteResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

// ValidationResult aggregates the suites run against the test environment.
type ValidationResult struct {
	Passed bool          `json:"passed"`
	Suites []SuiteResult `json:"suites"`
}

// Failure summarizes the first failing suite, or "" when all passed.
func (v *ValidationResult) Failure() string {
	for _, s := range v.Suites {
		if !s.Passed {
			return fmt.Sprintf("%s suite failed (exit %d): %s", s.Name, s.ExitCode, firstLine(s.Output))
		}
	}
	return ""
}

// Validator runs the configured validation suites against the test
// environment, in order, stopping at the first failure.
type Validator struct {
	env config.Environments
	cmd CommandRunner
}

// NewValidator creates a Validator for the configured environments.
func NewValidator(env config.Environments, cmd CommandRunner) *Validator {
	return &Validator{env: env, cmd: cmd}
}

// Validate runs syntax, unit, and smoke suites against the test environment.
// Suites without a configured command are skipped. The error return is
// reserved for execution problems; a failing suite is reported in the result.
func (v *Validator) Validate(ctx context.Context) (*ValidationResult, error) {
	timeout := 10 * time.Minute
	if d, err := time.ParseDuration(v.env.Validation.Timeout); err == nil && d > 0 {
		timeout = d
	}

	suites := []struct {
		name    string
		command string
	}{
		{"syntax", v.env.Validation.SyntaxCommand},
		{"unit", v.env.Validation.UnitCommand},
		{"smoke", v.env.Validation.SmokeCommand},
	}

	res := &ValidationResult{Passed: true}
	for _, suite := range suites {
		if suite.command == "" {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		stdout, stderr, exitCode, err := v.cmd.Run(sctx, v.env.Test.Path, suite.command)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("run %s suite: %w", suite.name, err)
		}

		sr := SuiteResult{Name: suite.name, Passed: exitCode == 0, ExitCode: exitCode}
		if !sr.Passed {
			sr.Output = firstLine(stderr, stdout)
		}
		res.Suites = append(res.Suites, sr)
		if !sr.Passed {
			res.Passed = false
			break
		}
	}
	return res, nil
}

// firstLine returns the first non-empty line from the given strings,
// preferring earlier arguments.
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
